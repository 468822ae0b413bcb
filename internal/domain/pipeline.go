package domain

// PipelineContext carries a job's immutable inputs plus the growing set of
// intermediate artifacts threaded through orchestrator stages. Stages read
// prior artifacts and add their own; the inputs are never modified, so a
// re-entrant stage (retry) can recompute idempotently from them. The one
// replaced artifact is OnModelURLs, which identity lock overwrites with its
// locked renders.
type PipelineContext struct {
	JobID     string
	Principal string
	Kind      Kind

	// Shape A inputs.
	GarmentImageURL string
	PresetID        string
	AspectRatio     string
	IdentityID      string
	ReferenceAngles []string // angle reference image URLs, fan-out input

	// Shape B inputs.
	Prompt            string
	Model             string
	Tier              string
	ImageRefs         []string
	Duration          int
	ProviderMetadata  map[string]any

	// Artifacts, appended by stages as they complete.
	CleanedReferenceURLs []string
	FaceCloseUpURLs      []string
	OnModelURLs          []string // one per successful angle, in ReferenceAngles order; failed angles are skipped
	FailedAngles         []string // angles whose on-model generation failed
	CompositeURL         string
	CompositionPath      string // "primary" or "fallback", recorded for provenance
	GeneratedSceneURL    string
	DressedRenderURL     string
	FinalOutputURL       string
}

// Artifacts returns the subset of PipelineContext fields worth persisting
// as job-row provenance at a stage boundary.
func (p *PipelineContext) Artifacts() map[string]any {
	out := map[string]any{}
	if len(p.CleanedReferenceURLs) > 0 {
		out["cleaned_reference_urls"] = p.CleanedReferenceURLs
	}
	if len(p.OnModelURLs) > 0 {
		out["on_model_urls"] = p.OnModelURLs
	}
	if len(p.FailedAngles) > 0 {
		out["failed_angles"] = p.FailedAngles
	}
	if p.CompositeURL != "" {
		out["composite_url"] = p.CompositeURL
	}
	if p.CompositionPath != "" {
		out["composition_path"] = p.CompositionPath
	}
	if p.GeneratedSceneURL != "" {
		out["generated_scene_url"] = p.GeneratedSceneURL
	}
	if p.DressedRenderURL != "" {
		out["dressed_render_url"] = p.DressedRenderURL
	}
	if p.FinalOutputURL != "" {
		out["final_output_url"] = p.FinalOutputURL
	}
	return out
}
