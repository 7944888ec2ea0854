package ranking

import (
	"context"
	"sync"
	"time"

	"github.com/medforge/portal/internal/apiclient"
	"github.com/medforge/portal/pkg/models"
)

// Ranker produces a ranking pass
type Ranker interface {
	RankWithReport(ctx context.Context) ([]models.RankedUser, Report, error)
}

// BoardState is what a rankings view renders
type BoardState struct {
	Data      []models.RankedUser `json:"data"`
	Loading   bool                `json:"loading"`
	Err       string              `json:"error,omitempty"`
	UpdatedAt time.Time           `json:"updated_at"`
}

// Board holds the latest ranking for one view. Starting a new pass
// supersedes any pass still in flight; superseded results are dropped.
type Board struct {
	ranker   Ranker
	onChange func(BoardState)

	mu     sync.Mutex
	state  BoardState
	gen    uint64
	closed bool
	wg     sync.WaitGroup
}

// NewBoard creates a board. onChange may be nil and must not call Close.
func NewBoard(ranker Ranker, onChange func(BoardState)) *Board {
	return &Board{
		ranker:   ranker,
		onChange: onChange,
		state:    BoardState{Data: []models.RankedUser{}, Loading: true},
	}
}

// Load runs one pass and returns the board state afterwards. The pass's
// result is applied only if no newer pass started meanwhile.
func (b *Board) Load(ctx context.Context) BoardState {
	b.mu.Lock()
	if b.closed {
		state := b.state
		b.mu.Unlock()
		return state
	}
	b.gen++
	gen := b.gen
	b.state.Loading = true
	b.wg.Add(1)
	b.mu.Unlock()
	defer b.wg.Done()

	ranked, _, err := b.ranker.RankWithReport(ctx)

	b.mu.Lock()
	if b.closed || gen != b.gen {
		state := b.state
		b.mu.Unlock()
		return state
	}
	if err != nil {
		b.state = BoardState{
			Data:      []models.RankedUser{},
			Err:       "could not load rankings: " + apiclient.Message(err, "request failed"),
			UpdatedAt: time.Now(),
		}
	} else {
		b.state = BoardState{Data: ranked, UpdatedAt: time.Now()}
	}
	state := b.state
	onChange := b.onChange
	b.mu.Unlock()

	if onChange != nil {
		onChange(state)
	}
	return state
}

// Snapshot returns the current board state
func (b *Board) Snapshot() BoardState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Close makes every pending and future pass inert and waits for passes
// already running, so no notification happens after it returns. Cancel the
// context given to Load first to avoid waiting on slow requests.
func (b *Board) Close() {
	b.mu.Lock()
	b.closed = true
	b.onChange = nil
	b.mu.Unlock()

	b.wg.Wait()
}
