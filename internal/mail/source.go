package mail

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Header is the first row of a label snapshot. Column positions match the
// raw transactions sheet, with the message ID in place of the transaction
// ID.
var Header = []string{"Message ID", "Date", "Time", "Recipient", "Amount", "Bank", "Mode"}

// LabelSource presents the messages under a Gmail label as an append-only
// table, oldest first. Alerts that cannot be parsed, and messages that
// already carry the processed label, become one-cell rows: they keep their
// position but the reader skips them.
type LabelSource struct {
	mailbox   Mailbox
	label     string
	processed string
	loc       *time.Location
	log       zerolog.Logger

	mu       sync.Mutex
	labelID  string
	procID   string
	cache    map[string]cachedMessage
	snapshot []string
}

type cachedMessage struct {
	internalDate int64
	row          []string
}

// NewLabelSource reads messages under label. Dates are rendered in loc.
func NewLabelSource(mailbox Mailbox, label, processedLabel string, loc *time.Location, log zerolog.Logger) *LabelSource {
	if loc == nil {
		loc = time.Local
	}
	return &LabelSource{
		mailbox:   mailbox,
		label:     label,
		processed: processedLabel,
		loc:       loc,
		log:       log.With().Str("component", "mail").Str("label", label).Logger(),
		cache:     make(map[string]cachedMessage),
	}
}

func (s *LabelSource) resolveLabels(ctx context.Context) error {
	if s.labelID == "" {
		id, err := s.mailbox.LabelID(ctx, s.label, false)
		if err != nil {
			return err
		}
		s.labelID = id
	}
	if s.procID == "" && s.processed != "" {
		id, err := s.mailbox.LabelID(ctx, s.processed, true)
		if err != nil {
			return err
		}
		s.procID = id
	}
	return nil
}

// Rows implements ingest.RowSource.
func (s *LabelSource) Rows(ctx context.Context) ([][]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.resolveLabels(ctx); err != nil {
		return nil, fmt.Errorf("LabelSource.Rows: %w", err)
	}

	ids, err := s.mailbox.ListMessageIDs(ctx, s.labelID)
	if err != nil {
		return nil, fmt.Errorf("LabelSource.Rows: %w", err)
	}

	msgs := make([]cachedMessage, 0, len(ids))
	for _, id := range ids {
		c, ok := s.cache[id]
		if !ok {
			msg, err := s.mailbox.GetMessage(ctx, id)
			if err != nil {
				return nil, fmt.Errorf("LabelSource.Rows: %w", err)
			}
			c = cachedMessage{internalDate: msg.InternalDate, row: s.toRow(msg)}
			s.cache[id] = c
		}
		msgs = append(msgs, c)
	}

	sort.SliceStable(msgs, func(i, j int) bool {
		if msgs[i].internalDate != msgs[j].internalDate {
			return msgs[i].internalDate < msgs[j].internalDate
		}
		return msgs[i].row[0] < msgs[j].row[0]
	})

	rows := make([][]string, 0, len(msgs)+1)
	rows = append(rows, append([]string(nil), Header...))
	s.snapshot = s.snapshot[:0]
	s.snapshot = append(s.snapshot, "")
	for _, m := range msgs {
		rows = append(rows, append([]string(nil), m.row...))
		s.snapshot = append(s.snapshot, m.row[0])
	}
	return rows, nil
}

// Reconnect implements ingest.RowSource.
func (s *LabelSource) Reconnect(ctx context.Context) error {
	return s.mailbox.Reconnect(ctx)
}

// MessageIDs returns the IDs of snapshot rows from..to inclusive, as of the
// last Rows call.
func (s *LabelSource) MessageIDs(from, to int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if from < 1 {
		from = 1
	}
	if to >= len(s.snapshot) {
		to = len(s.snapshot) - 1
	}
	var ids []string
	for i := from; i <= to; i++ {
		ids = append(ids, s.snapshot[i])
	}
	return ids
}

// ProcessedLabelID is the resolved processed label, or "" before the first
// Rows call or when no processed label is configured.
func (s *LabelSource) ProcessedLabelID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.procID
}

func (s *LabelSource) toRow(msg Message) []string {
	for _, l := range msg.LabelIDs {
		if s.procID != "" && l == s.procID {
			return []string{msg.ID}
		}
	}

	parsed, err := Parse(msg.From, msg.Body)
	if err != nil {
		ev := s.log.Warn()
		if errors.Is(err, ErrNotATransaction) {
			ev = s.log.Debug()
		}
		ev.Err(err).Str("message_id", msg.ID).Msg("skipping alert")
		return []string{msg.ID}
	}

	at := time.UnixMilli(msg.InternalDate).In(s.loc)
	return []string{
		msg.ID,
		at.Format("2006-01-02"),
		at.Format("15:04:05"),
		parsed.Recipient,
		parsed.Amount,
		parsed.Bank,
		parsed.Mode,
	}
}
