package drm

import (
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"gitlab.com/lehn/edid"
)

// MonitorIdentity turns an EDID blob into "PNPID-Model-Serial", or "" when
// the blob is missing or unparsable.
func MonitorIdentity(blob []byte) string {
	if len(blob) < 128 {
		return ""
	}

	e, err := edid.New(blob)
	if err != nil {
		return ""
	}

	return fmt.Sprintf("%s-%d-%d", string(e.PNPID[:]), e.Model, e.Serial)
}

func shortHash(parts ...string) string {
	h := md5.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))[:10]
}

// outputUUID is stable for the same monitor on the same connector across
// restarts and hotplugs.
func outputUUID(connectorName, monitor string) string {
	return shortHash(connectorName, monitor)
}

// ConfigurationKey names the set of connected outputs: a single output's own
// identifier, or a short hash over all of them in sorted order.
func ConfigurationKey(uuids []string) string {
	if len(uuids) == 1 {
		return uuids[0]
	}

	sorted := make([]string, len(uuids))
	copy(sorted, uuids)
	sort.Strings(sorted)

	return shortHash(strings.Join(sorted, ""))
}
