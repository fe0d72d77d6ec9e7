package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are a risk filter for a short-term KRW crypto trading bot.
You receive one candidate entry at a time: the market, its technical snapshot
(confluence score, RSI, MACD state, Bollinger band position, volume ratio) and
recent news headlines mentioning the asset.

Your job is to veto entries that look dangerous despite a passing technical
score: pump-and-dump headlines, exchange incidents, delisting or regulatory
news, or a snapshot that contradicts itself (e.g. extreme volume with an
overbought RSI).

Rules:
1. APPROVE only when nothing in the context argues against the entry.
2. REJECT when news or context makes the setup unreliable.
3. confidence is 0.0-1.0, your certainty in the verdict.
4. reason must be one short sentence.

Answer strictly as one JSON object:
{"decision": "APPROVED", "confidence": 0.8, "reason": "..."}`

func BuildFilterPrompt(req *FilterRequest) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("## Candidate entry: %s\n\n", req.Market))

	s := req.Snapshot
	sb.WriteString("### Technical snapshot\n")
	sb.WriteString(fmt.Sprintf("- price: %.2f KRW\n", s.Price))
	sb.WriteString(fmt.Sprintf("- confluence score: %.0f / 100\n", s.ConfluenceScore))
	sb.WriteString(fmt.Sprintf("- RSI(14): %.1f\n", s.RSI))
	sb.WriteString(fmt.Sprintf("- MACD: %s\n", s.MACD))
	sb.WriteString(fmt.Sprintf("- band position: %.2f\n", s.BandPosition))
	sb.WriteString(fmt.Sprintf("- volume ratio: %.1fx\n\n", s.VolumeRatio))

	if len(req.News) > 0 {
		sb.WriteString("### Recent headlines\n")
		for _, n := range req.News {
			sb.WriteString(fmt.Sprintf("- %s\n", n))
		}
	} else {
		sb.WriteString("### Recent headlines\nNo relevant headlines found.\n")
	}

	sb.WriteString("\nGive your verdict as JSON.")

	return sb.String()
}
