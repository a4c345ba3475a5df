package receipt

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	xerrors "AgentReceipt/internal/errors"
)

// Option customises receipt creation.
type Option func(*options)

type options struct {
	id  string
	now func() time.Time
}

// WithID fixes the receipt identifier instead of generating a UUID.
func WithID(id string) Option {
	return func(o *options) {
		o.id = strings.TrimSpace(id)
	}
}

// WithClock overrides the creation clock, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// New assembles a fresh, unattested receipt from validated parts.
func New(tx TransactionProof, commerce CommerceContext, opts ...Option) (AgentReceipt, error) {
	o := options{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}
	if o.id == "" {
		o.id = uuid.NewString()
	}
	r := AgentReceipt{
		ReceiptID:    o.id,
		Version:      Version,
		CreatedAt:    o.now().UTC().Format(time.RFC3339),
		Transaction:  tx,
		Commerce:     commerce.clone(),
		Attestations: []Attestation{},
	}
	if err := Validate(r); err != nil {
		return AgentReceipt{}, err
	}
	return r, nil
}

// MarshalDocument encodes r as the portable JSON receipt document.
func MarshalDocument(r AgentReceipt) ([]byte, error) {
	if r.Attestations == nil {
		r.Attestations = []Attestation{}
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidInput, err, "encode receipt document")
	}
	return data, nil
}

// ParseDocument decodes a JSON receipt document. Unknown fields are ignored so
// newer documents remain readable.
func ParseDocument(data []byte) (AgentReceipt, error) {
	var r AgentReceipt
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&r); err != nil {
		return AgentReceipt{}, xerrors.Wrap(xerrors.CodeInvalidInput, err, "decode receipt document")
	}
	if r.Attestations == nil {
		r.Attestations = []Attestation{}
	}
	return r, nil
}
