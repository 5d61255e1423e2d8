package cib

import (
	"fmt"
	"strings"

	"github.com/nodequorum/controld/pkg/ctlerr"
	"github.com/nodequorum/controld/pkg/types"
)

// EncodeMagic builds the transition-magic attribute value stamped onto a
// lrm_rsc_op status entry: "<op-status>:<rc>;<graph-id>:<action-id>:<target-rc>:<uuid>".
// te_utils.c's abort-on-diff path decodes exactly this shape to tell
// whether a status change corresponds to a transition it is still
// tracking.
func EncodeMagic(opStatus, rc int, key types.TransitionKey) string {
	return fmt.Sprintf("%d:%d;%s", opStatus, rc, key.String())
}

// DecodeMagic parses a transition-magic attribute value.
func DecodeMagic(magic string) (opStatus, rc int, key types.TransitionKey, err error) {
	parts := strings.SplitN(magic, ";", 2)
	if len(parts) != 2 {
		return 0, 0, types.TransitionKey{}, ctlerr.New(ctlerr.Protocol, "cib.DecodeMagic", fmt.Sprintf("malformed magic %q", magic), nil)
	}

	if _, err := fmt.Sscanf(parts[0], "%d:%d", &opStatus, &rc); err != nil {
		return 0, 0, types.TransitionKey{}, ctlerr.New(ctlerr.Protocol, "cib.DecodeMagic", fmt.Sprintf("malformed op-status/rc in %q", magic), err)
	}

	key, perr := types.ParseTransitionKey(parts[1])
	if perr != nil {
		return 0, 0, types.TransitionKey{}, ctlerr.New(ctlerr.Protocol, "cib.DecodeMagic", fmt.Sprintf("malformed transition key in %q", magic), perr)
	}

	return opStatus, rc, key, nil
}
