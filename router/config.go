package router

import "github.com/dispatchfabric/fabric/core"

// Options configures a Router using the fabric's functional-options
// convention.
type Options struct {
	// Fillers is the form-fill ladder (§4.7 "Form-fill ladder"), tried in
	// order on successive attempts of the same handler's fill. The last
	// tier is reused for any attempt beyond the ladder's length, matching
	// original_source/src/routing/form_filler.rs's model_for_attempt
	// fallback. Never include the Agent Loop's reasoning tier here (§4.7).
	Fillers []core.FormFiller

	// MaxAttempts bounds how many fill attempts are tried in total,
	// independent of the ladder's length (mirroring original_source's
	// FormFiller::new(pool, max_retries) being configured separately from
	// MODEL_LADDER's fixed length). Defaults to len(Fillers) when zero.
	MaxAttempts int
}
