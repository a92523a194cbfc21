package delivery

import (
	"context"

	"github.com/rs/zerolog"

	"account-lifecycle/internal/devotp"
)

// DevSender keeps codes in a devotp.Store so they can be read back at GET /dev/otc.
// For non-production use only.
type DevSender struct {
	store devotp.Store
	log   zerolog.Logger
}

// NewDevSender returns a Sender backed by store.
func NewDevSender(store devotp.Store, log zerolog.Logger) *DevSender {
	return &DevSender{store: store, log: log}
}

func (s *DevSender) Send(ctx context.Context, m Message) error {
	s.store.Put(ctx, m.Email, string(m.Purpose), m.Code, m.ExpiresAt)
	s.log.Warn().Str("email", m.Email).Str("purpose", string(m.Purpose)).
		Msg("dev otc mode: code stored in memory instead of being delivered")
	return nil
}
