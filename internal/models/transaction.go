package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Kind is the business transaction type a partner submits.
type Kind string

const (
	KindNewBusiness   Kind = "NewBusiness"
	KindEndorsement   Kind = "Endorsement"
	KindCancellation  Kind = "Cancellation"
	KindReinstatement Kind = "Reinstatement"
)

var kinds = []Kind{KindNewBusiness, KindEndorsement, KindCancellation, KindReinstatement}

func ParseKind(s string) (Kind, bool) {
	for _, k := range kinds {
		if string(k) == s {
			return k, true
		}
	}
	return "", false
}

// Status is the coarse lifecycle of a transaction.
type Status string

const (
	StatusReceived   Status = "Received"
	StatusProcessing Status = "Processing"
	StatusCompleted  Status = "Completed"
	StatusFailed     Status = "Failed"
)

func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Stage is the position of a transaction in the pipeline.
type Stage string

const (
	StageReceived          Stage = "Received"
	StageInsuredResolved   Stage = "InsuredResolved"
	StageSubmissionCreated Stage = "SubmissionCreated"
	StageQuoteCreated      Stage = "QuoteCreated"
	StageRated             Stage = "Rated"
	StageBound             Stage = "Bound"
	StageIssued            Stage = "Issued"
	StageCompleted         Stage = "Completed"
	StageError             Stage = "Error"
)

// StageOrder is the fixed forward order. Error sits outside it.
var StageOrder = []Stage{
	StageReceived,
	StageInsuredResolved,
	StageSubmissionCreated,
	StageQuoteCreated,
	StageRated,
	StageBound,
	StageIssued,
	StageCompleted,
}

// Index returns the position in StageOrder, or -1 for Error and unknown values.
func (s Stage) Index() int {
	for i, st := range StageOrder {
		if st == s {
			return i
		}
	}
	return -1
}

// Next returns the stage after s.
func (s Stage) Next() (Stage, bool) {
	i := s.Index()
	if i < 0 || i == len(StageOrder)-1 {
		return "", false
	}
	return StageOrder[i+1], true
}

func (s Stage) IsTerminal() bool {
	return s == StageCompleted || s == StageError
}

// CanMoveTo reports whether s -> to respects forward-only ordering.
func (s Stage) CanMoveTo(to Stage) bool {
	if s.IsTerminal() {
		return false
	}
	if to == StageError {
		return true
	}
	return to.Index() > s.Index() && s.Index() >= 0
}

// LogLevel for transaction log entries.
type LogLevel string

const (
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// LogEntry is one line of the human-readable trail kept on the transaction.
type LogEntry struct {
	At      time.Time `json:"at"`
	Level   LogLevel  `json:"level"`
	Stage   Stage     `json:"stage"`
	Message string    `json:"message"`
}

func (e LogEntry) String() string {
	return fmt.Sprintf("%s [%s] %s: %s", e.At.Format(time.RFC3339), e.Level, e.Stage, e.Message)
}

// Transaction is the unit of work driven through the pipeline.
type Transaction struct {
	ID            string          `json:"id" db:"id"`
	ExternalID    string          `json:"externalId,omitempty" db:"external_id"`
	Source        string          `json:"source" db:"source"`
	Kind          Kind            `json:"kind" db:"kind"`
	RawPayload    json.RawMessage `json:"rawPayload" db:"raw_payload"`
	Payload       *Payload        `json:"parsedPayload,omitempty" db:"parsed_payload"`
	Status        Status          `json:"status" db:"status"`
	Stage         Stage           `json:"stage" db:"stage"`
	FailedStage   Stage           `json:"failedStage,omitempty" db:"failed_stage"`
	StageAttempts int             `json:"stageAttempts" db:"stage_attempts"`
	Refs          EntityRefs      `json:"entityRefs" db:"entity_refs"`
	Log           []LogEntry      `json:"log" db:"log"`
	LastError     string          `json:"lastError,omitempty" db:"last_error"`
	CreatedAt     time.Time       `json:"createdAt" db:"created_at"`
	UpdatedAt     time.Time       `json:"updatedAt" db:"updated_at"`
}

// NewTransaction builds a freshly received transaction.
func NewTransaction(id, source, externalID string, kind Kind, raw json.RawMessage, now time.Time) *Transaction {
	tx := &Transaction{
		ID:         id,
		ExternalID: externalID,
		Source:     source,
		Kind:       kind,
		RawPayload: raw,
		Status:     StatusReceived,
		Stage:      StageReceived,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	tx.AppendLog(now, LogInfo, fmt.Sprintf("received %s transaction from %s", kind, source))
	return tx
}

// AppendLog adds an entry tagged with the current stage.
func (t *Transaction) AppendLog(at time.Time, level LogLevel, message string) {
	t.Log = append(t.Log, LogEntry{At: at.UTC(), Level: level, Stage: t.Stage, Message: message})
}

// Tail returns the last n log entries for display without touching the stored log.
func (t *Transaction) Tail(n int) []LogEntry {
	if n <= 0 || n >= len(t.Log) {
		out := make([]LogEntry, len(t.Log))
		copy(out, t.Log)
		return out
	}
	out := make([]LogEntry, n)
	copy(out, t.Log[len(t.Log)-n:])
	return out
}

// IsTerminal reports whether no further Advance can change the transaction.
func (t *Transaction) IsTerminal() bool {
	return t.Status.IsTerminal() || t.Stage.IsTerminal()
}

// MissingRefs lists required references not yet recorded for the kind.
func (t *Transaction) MissingRefs() []RefField {
	var missing []RefField
	for _, f := range RequiredRefs(t.Kind) {
		if !t.Refs.Has(f) {
			missing = append(missing, f)
		}
	}
	return missing
}

// Clone returns a deep copy so a stage can work on a scratch value.
func (t *Transaction) Clone() *Transaction {
	cp := *t
	cp.RawPayload = append(json.RawMessage(nil), t.RawPayload...)
	cp.Log = append([]LogEntry(nil), t.Log...)
	if t.Refs.Premium != nil {
		p := *t.Refs.Premium
		cp.Refs.Premium = &p
	}
	return &cp
}

// Summary is the status view returned to callers querying a transaction.
type Summary struct {
	ID          string     `json:"id"`
	Status      Status     `json:"status"`
	Stage       Stage      `json:"stage"`
	FailedStage Stage      `json:"failedStage,omitempty"`
	Refs        EntityRefs `json:"entityRefs"`
	LastError   string     `json:"lastError,omitempty"`
	RecentLog   []LogEntry `json:"recentLog"`
}

func (t *Transaction) Summarize(logLines int) Summary {
	return Summary{
		ID:          t.ID,
		Status:      t.Status,
		Stage:       t.Stage,
		FailedStage: t.FailedStage,
		Refs:        t.Refs,
		LastError:   t.LastError,
		RecentLog:   t.Tail(logLines),
	}
}

// PremiumOrZero is a convenience for metrics and notifications.
func (t *Transaction) PremiumOrZero() decimal.Decimal {
	if t.Refs.Premium == nil {
		return decimal.Zero
	}
	return *t.Refs.Premium
}
