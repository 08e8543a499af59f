package router

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dispatchfabric/fabric/core"
	"github.com/dispatchfabric/fabric/logging"
)

// Router implements route_by_intent (§4.7). It holds its own handler
// registry rather than sharing dispatch.Engine's, since ranking needs every
// candidate's semantic description and cached embedding up front, while the
// dispatch engine only ever needs one resolved handler per envelope.
type Router struct {
	embedder    core.Embedder
	resolve     core.ProfileResolver
	validator   core.SchemaValidator
	fillers     []core.FormFiller
	maxAttempts int
	log         logging.Logger

	mu         sync.RWMutex
	handlers   map[string]core.HandlerRegistration
	embeddings map[string][]float64
}

// New builds a Router over the given embedding and resolution collaborators.
// Like dispatch.New, these have no sensible in-memory default: a router with
// no embedder can't rank and a router with no resolver can't mask, so both
// are required positional arguments.
func New(embedder core.Embedder, resolver core.ProfileResolver, validator core.SchemaValidator, optFns ...func(*Options)) *Router {
	opts := Options{}
	for _, fn := range optFns {
		fn(&opts)
	}

	maxAttempts := opts.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = len(opts.Fillers)
	}

	return &Router{
		embedder:    embedder,
		resolve:     resolver,
		validator:   validator,
		fillers:     opts.Fillers,
		maxAttempts: maxAttempts,
		log:         logging.NoOpLogger{},
		handlers:    make(map[string]core.HandlerRegistration),
		embeddings:  make(map[string][]float64),
	}
}

// SetLogger overrides the router's logger after construction.
func (r *Router) SetLogger(l logging.Logger) { r.log = l }

// Register adds a handler to the router's candidate pool. Its embedding is
// computed lazily, on first use, since Register itself takes no context to
// call the embedder with.
func (r *Router) Register(reg core.HandlerRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[reg.Name] = reg
	delete(r.embeddings, reg.Name) // force recompute if re-registered with a new description
}

// RouteByIntent runs Rank -> Mask -> Select -> Fill -> Emit (§4.7) and
// returns a DispatchPlan the caller must still submit through the Dispatch
// Engine for stage-2 validation and delivery.
func (r *Router) RouteByIntent(ctx context.Context, naturalLanguage, profileName, threadID string) (DispatchPlan, error) {
	r.log.Debug("router.route_by_intent", "thread_id", threadID, "profile", profileName)
	start := time.Now()

	profile, err := r.resolve.Profile(profileName)
	if err != nil {
		return DispatchPlan{}, core.NewError(core.UnknownProfile, "profile %q not found", profileName)
	}

	ranked, err := r.rank(ctx, naturalLanguage)
	if err != nil {
		return DispatchPlan{}, err
	}

	masked := r.mask(ranked, profile)
	if len(masked) == 0 {
		return DispatchPlan{}, core.NewError(core.NoCapability, "no handler in profile %q is permitted for this intent", profileName)
	}

	selected := masked[0].reg // Select: top remaining candidate.

	payload, attempts, err := r.fill(ctx, selected, naturalLanguage)
	if dl, ok := r.log.(logging.DomainLogger); ok {
		dl.LogRouterDecision(selected.Name, attempts, time.Since(start), err == nil, err)
	}
	if err != nil {
		return DispatchPlan{}, err
	}

	tag := selected.Name
	if len(selected.PayloadTags) > 0 {
		tag = selected.PayloadTags[0]
	}

	return DispatchPlan{Handler: selected.Name, PayloadTag: tag, Payload: payload}, nil
}

// rank embeds naturalLanguage, embeds (and caches) every registered
// handler's effective semantic description, and sorts by cosine similarity
// descending (§4.7 step 1).
func (r *Router) rank(ctx context.Context, naturalLanguage string) ([]candidate, error) {
	queryVec, err := r.embedder.Embed(ctx, naturalLanguage)
	if err != nil {
		return nil, core.NewError(core.FormFillFailed, "embedding request failed: %v", err)
	}

	r.mu.RLock()
	regs := make([]core.HandlerRegistration, 0, len(r.handlers))
	for _, reg := range r.handlers {
		regs = append(regs, reg)
	}
	r.mu.RUnlock()

	candidates := make([]candidate, 0, len(regs))
	for _, reg := range regs {
		vec, err := r.handlerEmbedding(ctx, reg)
		if err != nil {
			r.log.Warn("router.rank.embed_failed", "handler", reg.Name, "error", err.Error())
			continue
		}
		candidates = append(candidates, candidate{reg: reg, score: cosineSimilarity(queryVec, vec)})
	}

	sort.SliceStable(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })
	return candidates, nil
}

func (r *Router) handlerEmbedding(ctx context.Context, reg core.HandlerRegistration) ([]float64, error) {
	r.mu.RLock()
	vec, ok := r.embeddings[reg.Name]
	r.mu.RUnlock()
	if ok {
		return vec, nil
	}

	vec, err := r.embedder.Embed(ctx, reg.EffectiveSemanticDescription())
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.embeddings[reg.Name] = vec
	r.mu.Unlock()
	return vec, nil
}

// mask drops every candidate not reachable in profile's dispatch table
// (§4.7 step 2, runs before Select). Permission is checked by handler name
// through IsPermitted; the candidate's own PayloadTags are not consulted.
func (r *Router) mask(ranked []candidate, profile core.Profile) []candidate {
	out := make([]candidate, 0, len(ranked))
	for _, c := range ranked {
		permitted, err := r.resolve.IsPermitted(profile.Name, c.reg.Name)
		if err != nil {
			r.log.Warn("router.mask.resolve_failed", "handler", c.reg.Name, "error", err.Error())
			continue
		}
		if permitted {
			out = append(out, c)
		}
	}
	return out
}

// fill drives the form-fill ladder (§4.7 step 4): each attempt uses the next
// configured filler tier (holding on the last tier once the ladder is
// exhausted), and every attempt after the first appends the prior attempt's
// validation failure to the prompt as corrective feedback, the same shape as
// original_source/src/routing/form_filler.rs's build_retry_prompt.
func (r *Router) fill(ctx context.Context, reg core.HandlerRegistration, naturalLanguage string) ([]byte, int, error) {
	if len(r.fillers) == 0 {
		return nil, 0, core.NewError(core.FormFillFailed, "no form filler configured").WithHandler(reg.Name)
	}

	prompt := naturalLanguage
	var lastErr error

	for attempt := 0; attempt < r.maxAttempts; attempt++ {
		tier := attempt
		if tier >= len(r.fillers) {
			tier = len(r.fillers) - 1
		}
		filler := r.fillers[tier]

		payload, err := filler.Fill(ctx, reg.RequestSchema, prompt)
		if err != nil {
			lastErr = err
			prompt = retryPrompt(naturalLanguage, err)
			continue
		}

		if r.validator != nil && reg.RequestSchema != nil {
			if err := r.validator.Validate(reg.RequestSchema, payload); err != nil {
				lastErr = err
				prompt = retryPrompt(naturalLanguage, err)
				continue
			}
		}

		return payload, attempt + 1, nil
	}

	return nil, r.maxAttempts, core.NewError(core.FormFillFailed, "form fill exhausted %d attempts: %v", r.maxAttempts, lastErr).WithHandler(reg.Name)
}

func retryPrompt(naturalLanguage string, previousErr error) string {
	return fmt.Sprintf("%s\n\n(Previous attempt failed validation: %v. Correct the output and try again.)", naturalLanguage, previousErr)
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) == 0 || len(b) == 0 || len(a) != len(b) {
		return -1
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
