package analyzer

type MACDState string

const (
	MACDBullish MACDState = "BULLISH"
	MACDBearish MACDState = "BEARISH"
	MACDNeutral MACDState = "NEUTRAL"
)

// Snapshot is the indicator state of a market at signal time.
type Snapshot struct {
	Market          string
	Price           float64
	ConfluenceScore float64 // 0-100 composite entry strength
	RSI             float64
	MACD            MACDState
	BandPosition    float64 // 0 = lower band, 1 = upper band
	VolumeRatio     float64 // last volume vs trailing average
}
