// Package presets is the static catalog of named "vibe" presets a
// fashion-generate request can reference by id: each expands into a
// hidden cinematic prompt, a camera move, and a clip duration, so the
// caller only ever supplies a preset id, never the underlying prompt
// text (a supplemented feature, grounded on original_source/workers/presets.py).
package presets

import "fmt"

// Preset is one catalog entry.
type Preset struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Category   string `json:"category"`
	Prompt     string `json:"prompt"`
	CameraMove string `json:"camera_move"`
	Duration   int    `json:"duration"`
}

var catalog = map[string]Preset{
	"paris-strut": {
		ID: "paris-strut", Name: "Paris Strut", Category: "Editorial",
		Prompt: "High fashion model walking confidently towards the camera on a sunlit Parisian " +
			"cobblestone street, golden hour warm light casting long shadows, cinematic 35mm " +
			"anamorphic lens, slow motion fabric movement with natural wind, boutique storefronts " +
			"slightly blurred in background, editorial Vogue aesthetic, shallow depth of field",
		CameraMove: "static", Duration: 8,
	},
	"studio-spin": {
		ID: "studio-spin", Name: "Studio Spin", Category: "Product",
		Prompt: "Fashion model standing center frame in a pristine white cyclorama studio, smooth " +
			"360-degree rotation showcasing the full outfit, professional soft box lighting with " +
			"subtle rim light, clean shadow on floor, high-end editorial fashion photography, " +
			"neutral expression, 4K detail on fabric texture",
		CameraMove: "pan_left", Duration: 8,
	},
	"beach-walk": {
		ID: "beach-walk", Name: "Beach Walk", Category: "Lifestyle",
		Prompt: "Model walking barefoot along a pristine shoreline at golden sunset, gentle ocean " +
			"breeze flowing through hair and fabric, warm amber and teal color grading, " +
			"lifestyle fashion editorial, waves softly lapping at feet, drone following shot " +
			"from slight elevation, relaxed confident stride",
		CameraMove: "pan_right", Duration: 8,
	},
	"street-style": {
		ID: "street-style", Name: "Street Style", Category: "Urban",
		Prompt: "Fashion model striking dynamic poses against a vibrant graffiti-covered brick wall " +
			"in an urban alley, streetwear energy, Dutch angle camera slowly tilting, neon " +
			"signage reflections, moody cinematic grade with high contrast, confident attitude, " +
			"hip-hop editorial style",
		CameraMove: "tilt_up", Duration: 8,
	},
	"runway": {
		ID: "runway", Name: "Runway", Category: "High Fashion",
		Prompt: "High fashion runway walk, model striding powerfully towards camera on an elevated " +
			"catwalk, dramatic single spotlight from above, moody dark atmosphere with subtle " +
			"haze, fashion week energy, front row silhouettes slightly visible, professional " +
			"model posture, fabric catching the light",
		CameraMove: "static", Duration: 8,
	},
	"golden-hour": {
		ID: "golden-hour", Name: "Golden Hour", Category: "Lifestyle",
		Prompt: "Model standing in a wheat field at magic hour, warm golden sunlight streaming " +
			"through, gentle lens flare, bohemian editorial mood, fabric billowing in soft " +
			"breeze, shallow depth of field with bokeh, slow cinematic push-in, romantic " +
			"color palette with rich warm tones",
		CameraMove: "zoom_in", Duration: 8,
	},
	"luxury-hotel": {
		ID: "luxury-hotel", Name: "Luxury Hotel", Category: "Editorial",
		Prompt: "Fashion model leaning against a marble column in a grand luxury hotel lobby, " +
			"ornate chandelier overhead, polished floor reflections, old-money aesthetic, " +
			"soft natural light through tall windows, cinematic medium shot slowly pulling " +
			"back to reveal the opulent interior, sophisticated and elegant",
		CameraMove: "zoom_out", Duration: 8,
	},
	"neon-nights": {
		ID: "neon-nights", Name: "Neon Nights", Category: "Urban",
		Prompt: "Model walking through a rain-slicked Tokyo street at night, vibrant neon signs " +
			"reflecting on wet pavement, cyberpunk color palette with magenta and electric blue, " +
			"cinematic shallow DOF, steam rising from grates, dramatic low-angle tracking shot, " +
			"futuristic fashion editorial",
		CameraMove: "pan_left", Duration: 8,
	},
}

// Get returns the full preset config for id.
func Get(id string) (Preset, error) {
	p, ok := catalog[id]
	if !ok {
		return Preset{}, fmt.Errorf("presets: unknown preset %q", id)
	}
	return p, nil
}

// Prompt returns just the hidden prompt text for id. (The orchestrator's
// video-synthesis stage calls Get, for the camera move and duration too.)
func Prompt(id string) (string, error) {
	p, err := Get(id)
	if err != nil {
		return "", err
	}
	return p.Prompt, nil
}

// All returns every catalog entry, in no particular order.
func All() []Preset {
	out := make([]Preset, 0, len(catalog))
	for _, p := range catalog {
		out = append(out, p)
	}
	return out
}
