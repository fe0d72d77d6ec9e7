package storage

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Positions

func (r *Repository) SavePosition(p *Position) error {
	return r.db.Create(p).Error
}

func (r *Repository) UpdatePosition(p *Position) error {
	return r.db.Save(p).Error
}

// FindPositionByID returns the current row for the position, or nil when the
// row no longer exists.
func (r *Repository) FindPositionByID(id uint) (*Position, error) {
	var p Position
	err := r.db.First(&p, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *Repository) FindPositionsByStatus(status PositionStatus) ([]Position, error) {
	var positions []Position
	err := r.db.Where("status = ?", status).Find(&positions).Error
	return positions, err
}

func (r *Repository) FindPositionsByMarketAndStatus(market string, status PositionStatus) ([]Position, error) {
	var positions []Position
	err := r.db.Where("market = ? AND status = ?", market, status).Find(&positions).Error
	return positions, err
}

func (r *Repository) CountByStatus(status PositionStatus) (int64, error) {
	var count int64
	err := r.db.Model(&Position{}).Where("status = ?", status).Count(&count).Error
	return count, err
}

// LastClosedPosition returns the most recently closed position on the market,
// or nil when the market has no trade history.
func (r *Repository) LastClosedPosition(market string) (*Position, error) {
	var p Position
	err := r.db.Where("market = ? AND status = ?", market, StatusClosed).
		Order("exit_time DESC").First(&p).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// RecentlyClosedMarkets lists the distinct markets with a position closed
// after the cutoff, regardless of which strategy traded them.
func (r *Repository) RecentlyClosedMarkets(since time.Time) ([]string, error) {
	var markets []string
	err := r.db.Model(&Position{}).
		Where("status = ? AND exit_time > ?", StatusClosed, since).
		Distinct("market").Pluck("market", &markets).Error
	return markets, err
}

func (r *Repository) RecentPositions(limit int) ([]Position, error) {
	var positions []Position
	err := r.db.Order("created_at DESC").Limit(limit).Find(&positions).Error
	return positions, err
}

// Circuit breaker

func (r *Repository) LoadBreakerState() (*BreakerState, error) {
	var state BreakerState
	err := r.db.First(&state).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		state = BreakerState{Day: time.Now().Format("2006-01-02")}
		if err := r.db.Create(&state).Error; err != nil {
			return nil, err
		}
		return &state, nil
	}
	if err != nil {
		return nil, err
	}
	return &state, nil
}

func (r *Repository) SaveBreakerState(state *BreakerState) error {
	return r.db.Save(state).Error
}

// Failure patterns

func (r *Repository) LoadPatternStates() ([]PatternState, error) {
	var states []PatternState
	err := r.db.Find(&states).Error
	return states, err
}

func (r *Repository) SavePatternState(state *PatternState) error {
	if state.ID != 0 {
		return r.db.Save(state).Error
	}
	var existing PatternState
	err := r.db.Where("pattern = ?", state.Pattern).First(&existing).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return r.db.Create(state).Error
	}
	if err != nil {
		return err
	}
	state.ID = existing.ID
	return r.db.Save(state).Error
}

// Signal logs

func (r *Repository) SaveSignalLog(log *SignalLog) error {
	return r.db.Create(log).Error
}
