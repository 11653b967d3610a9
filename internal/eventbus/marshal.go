package eventbus

import (
	"encoding/json"

	"github.com/lprior-repo/oya-sub007/internal/eventstore"
)

// marshalForMirror renders ev in the wire event-stream shape described by
// the API surface: a tagged union with discriminator "type" and ISO-8601
// UTC timestamps, which is exactly eventstore.Event's JSON tagging.
func marshalForMirror(ev eventstore.Event) ([]byte, error) {
	return json.Marshal(ev)
}
