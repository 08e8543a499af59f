// Package router implements the Semantic Router (§4.7): the
// Rank->Mask->Select->Fill->Emit pipeline consulted when a caller dispatches
// by natural-language intent rather than by payload_tag.
//
// The ranking math and the ladder-with-retry-feedback shape are grounded on
// original_source/src/routing/form_filler.rs's MODEL_LADDER and its
// retry-with-previous-error prompt construction, generalized from that
// file's XML-specific validator to validate fill output against a handler's
// declared request schema through the same core.SchemaValidator every other
// stage uses. The embedding and form-filling steps are delegated to
// core.Embedder and core.FormFiller, external collaborators the router never
// implements itself (§6).
package router
