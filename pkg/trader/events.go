package trader

import (
	"time"

	"github.com/gregtusar/coveredcalls/pkg/models"
	"github.com/gregtusar/coveredcalls/pkg/strategy"
)

const (
	TopicPositionOpened = "position.opened"
	TopicPositionClosed = "position.closed"
	TopicRollSuggested  = "position.roll_suggested"
	TopicAlert          = "alert"
)

// Topics lists every topic the engine publishes on.
var Topics = []string{TopicPositionOpened, TopicPositionClosed, TopicRollSuggested, TopicAlert}

// Event is the payload published on every topic. Handlers take a single
// Event argument.
type Event struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

type ClosedPosition struct {
	Position   models.CoveredCall `json:"position"`
	ProfitLoss float64            `json:"profit_loss"`
}

type RollSuggestion struct {
	Position   models.CoveredCall       `json:"position"`
	Decision   strategy.RollDecision    `json:"decision"`
	Candidates []strategy.RollCandidate `json:"candidates"`
}

func (e *Engine) publish(topic string, data interface{}) {
	e.bus.Publish(topic, Event{Type: topic, Data: data, Timestamp: e.now()})
}
