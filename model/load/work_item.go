package load

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
)

// WorkItem is a single unit of load handed from the generator to a worker.
// It is not modified after creation.
type WorkItem struct {
	ID          string
	Seq         uint64
	Kind        Kind
	Payload     []byte
	SubmittedAt time.Time
	// Target is the entity the item operates on. Empty when the item
	// creates its own entity through Submit.
	Target string
}

// NewWorkItem creates a work item with a fresh identifier.
func NewWorkItem(seq uint64, kind Kind, payload []byte, submittedAt time.Time) *WorkItem {
	return &WorkItem{
		ID:          uuid.NewString(),
		Seq:         seq,
		Kind:        kind,
		Payload:     payload,
		SubmittedAt: submittedAt,
	}
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Errorf("could not initialize cbor encoder: %w", err))
	}
	decMode, err = cbor.DecOptions{
		DupMapKey:         cbor.DupMapKeyEnforcedAPF,
		ExtraReturnErrors: cbor.ExtraDecErrorUnknownField,
	}.DecMode()
	if err != nil {
		panic(fmt.Errorf("could not initialize cbor decoder: %w", err))
	}
}

// EncodePayload serializes a protocol payload into the opaque item payload.
func EncodePayload(v interface{}) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("could not encode payload: %w", err)
	}
	return b, nil
}

// DecodePayload deserializes an item payload. Unknown fields are rejected.
func DecodePayload(b []byte, v interface{}) error {
	if len(b) == 0 {
		return fmt.Errorf("empty payload")
	}
	return decMode.Unmarshal(b, v)
}
