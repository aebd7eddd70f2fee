package generator

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"batch-orchestrator/core/models"
)

// Effect types understood by the generator
const (
	EffectParticles = "particles"
	EffectLighting  = "lighting"
	EffectMorphing  = "morphing"
	EffectPhysics   = "physics"
	EffectShader    = "shader"
)

type renderFunc func(item models.Item, detail float64) string

// EffectGenerator renders effect source code from templates. It is the
// default chunk processor of the service.
type EffectGenerator struct {
	renderers map[string]renderFunc
}

// NewEffectGenerator creates a generator for the built-in effect types
func NewEffectGenerator() *EffectGenerator {
	return &EffectGenerator{
		renderers: map[string]renderFunc{
			EffectParticles: renderParticles,
			EffectLighting:  renderLighting,
			EffectMorphing:  renderMorphing,
			EffectPhysics:   renderPhysics,
			EffectShader:    renderShader,
		},
	}
}

// Types returns the supported effect types in sorted order
func (g *EffectGenerator) Types() []string {
	types := make([]string, 0, len(g.renderers))
	for t := range g.renderers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Supports reports whether the effect type can be rendered
func (g *EffectGenerator) Supports(effectType string) bool {
	_, ok := g.renderers[strings.ToLower(effectType)]
	return ok
}

// detailFor scales template density with the performance target
func detailFor(target models.PerformanceTarget) float64 {
	switch target {
	case models.TargetSpeed:
		return 0.5
	case models.TargetQuality:
		return 2.0
	default:
		return 1.0
	}
}

// ProcessChunk renders one result per item, in item order
func (g *EffectGenerator) ProcessChunk(ctx context.Context, items []models.Item, jc models.JobContext) ([]models.Result, error) {
	detail := detailFor(jc.PerformanceTarget)
	results := make([]models.Result, 0, len(items))

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		effectType := strings.ToLower(item.Type)
		render, ok := g.renderers[effectType]
		if !ok {
			return nil, fmt.Errorf("item %s: unsupported effect type %q", item.ID, item.Type)
		}
		code := render(item, detail)
		results = append(results, models.Result{
			ItemID: item.ID,
			Type:   effectType,
			Output: code,
			Meta: map[string]interface{}{
				"lines":  strings.Count(code, "\n"),
				"detail": detail,
			},
		})
	}
	return results, nil
}

func header(item models.Item, effectType string) string {
	h := fmt.Sprintf("// Auto-generated %s effect %s\n", effectType, item.ID)
	if item.Prompt != "" {
		h += fmt.Sprintf("// Prompt: %s\n", strings.ReplaceAll(item.Prompt, "\n", " "))
	}
	return h
}

func renderParticles(item models.Item, detail float64) string {
	count := int(float64(paramInt(item.Params, "count", 1000)) * detail)
	color := paramString(item.Params, "color", "#ffffff")
	size := paramFloat(item.Params, "size", 0.05)
	speed := paramFloat(item.Params, "speed", 1.0)

	return header(item, EffectParticles) + fmt.Sprintf(`const particleCount = %d;
const geometry = new THREE.BufferGeometry();
const positions = new Float32Array(particleCount * 3);
const velocities = new Float32Array(particleCount * 3);
for (let i = 0; i < particleCount * 3; i++) {
  positions[i] = (Math.random() - 0.5) * 10;
  velocities[i] = (Math.random() - 0.5) * %.3f;
}
geometry.setAttribute('position', new THREE.BufferAttribute(positions, 3));
const material = new THREE.PointsMaterial({ color: '%s', size: %.3f, transparent: true });
const particles = new THREE.Points(geometry, material);

function updateParticles(delta) {
  const p = geometry.attributes.position.array;
  for (let i = 0; i < p.length; i++) {
    p[i] += velocities[i] * delta;
  }
  geometry.attributes.position.needsUpdate = true;
}
`, count, speed, color, size)
}

func renderLighting(item models.Item, detail float64) string {
	color := paramString(item.Params, "color", "#ffeedd")
	intensity := paramFloat(item.Params, "intensity", 1.0)
	lights := max(1, int(float64(paramInt(item.Params, "lights", 2))*detail))

	var b strings.Builder
	b.WriteString(header(item, EffectLighting))
	b.WriteString("const lights = [];\n")
	for i := 0; i < lights; i++ {
		fmt.Fprintf(&b, "const light%d = new THREE.PointLight('%s', %.2f, 50);\n", i, color, intensity)
		fmt.Fprintf(&b, "light%d.position.set(%d, 5, %d);\n", i, (i%2)*10-5, (i/2)*10-5)
		fmt.Fprintf(&b, "lights.push(light%d);\n", i)
	}
	if detail > 1 {
		b.WriteString("lights.forEach(l => { l.castShadow = true; l.shadow.mapSize.set(2048, 2048); });\n")
	}
	return b.String()
}

func renderMorphing(item models.Item, detail float64) string {
	duration := paramFloat(item.Params, "duration", 2.0)
	from := paramString(item.Params, "from", "sphere")
	to := paramString(item.Params, "to", "cube")
	segments := max(8, int(32*detail))

	return header(item, EffectMorphing) + fmt.Sprintf(`const source = new THREE.%sGeometry(1, %d, %d);
const target = new THREE.%sGeometry(1, %d, %d);
const morphDuration = %.2f;
let elapsed = 0;

function updateMorph(mesh, delta) {
  elapsed = Math.min(elapsed + delta, morphDuration);
  mesh.morphTargetInfluences[0] = elapsed / morphDuration;
}
`, geometryName(from), segments, segments, geometryName(to), segments, segments, duration)
}

func renderPhysics(item models.Item, detail float64) string {
	gravity := paramFloat(item.Params, "gravity", -9.81)
	bodies := max(1, int(float64(paramInt(item.Params, "bodies", 10))*detail))
	restitution := paramFloat(item.Params, "restitution", 0.6)
	substeps := max(1, int(4*detail))

	return header(item, EffectPhysics) + fmt.Sprintf(`const world = { gravity: %.2f, bodies: [] };
for (let i = 0; i < %d; i++) {
  world.bodies.push({ y: 5 + i, vy: 0, restitution: %.2f });
}

function stepPhysics(delta) {
  const h = delta / %d;
  for (let s = 0; s < %d; s++) {
    for (const b of world.bodies) {
      b.vy += world.gravity * h;
      b.y += b.vy * h;
      if (b.y < 0) { b.y = 0; b.vy = -b.vy * b.restitution; }
    }
  }
}
`, gravity, bodies, restitution, substeps, substeps)
}

func renderShader(item models.Item, detail float64) string {
	color := paramString(item.Params, "color", "#3366ff")
	r, g, bl := hexToRGB(color)
	octaves := max(1, int(3*detail))

	return header(item, EffectShader) + fmt.Sprintf(`uniform float uTime;
varying vec2 vUv;

float noise(vec2 p) {
  return fract(sin(dot(p, vec2(12.9898, 78.233))) * 43758.5453);
}

void main() {
  float n = 0.0;
  float amp = 0.5;
  vec2 p = vUv * 4.0 + uTime * 0.1;
  for (int i = 0; i < %d; i++) {
    n += noise(p) * amp;
    p *= 2.0;
    amp *= 0.5;
  }
  gl_FragColor = vec4(vec3(%.3f, %.3f, %.3f) * (0.5 + n), 1.0);
}
`, octaves, r, g, bl)
}

func geometryName(shape string) string {
	switch strings.ToLower(shape) {
	case "cube", "box":
		return "Box"
	case "torus":
		return "Torus"
	case "cone":
		return "Cone"
	default:
		return "Sphere"
	}
}

func hexToRGB(hex string) (float64, float64, float64) {
	var r, g, b int
	if _, err := fmt.Sscanf(strings.TrimPrefix(hex, "#"), "%02x%02x%02x", &r, &g, &b); err != nil {
		return 1, 1, 1
	}
	return float64(r) / 255, float64(g) / 255, float64(b) / 255
}

func paramFloat(params map[string]interface{}, key string, def float64) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	}
	return def
}

func paramInt(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return def
}

func paramString(params map[string]interface{}, key string, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}
