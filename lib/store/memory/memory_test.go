package memory

import (
	"encoding/json"
	"testing"

	"github.com/ipsleuth/ipsleuth/lib/store/storetest"
)

func TestCommon(t *testing.T) {
	storetest.Common(t, factory{}, json.RawMessage(`{}`))
}
