package scoring

import "sort"

// DefaultUptimeCap is the uptime, in seconds, that earns the full uptime component (~3.5 days).
const DefaultUptimeCap = 300000

// DefaultVersionFallback is awarded to versions missing from the table.
const DefaultVersionFallback = 3

// Policy holds the tunable scoring inputs. Version points change with every release,
// so they come from configuration rather than code.
type Policy struct {
	UptimeCap       float64
	VersionPoints   map[string]float64
	VersionFallback float64
	// LatestVersion is the release recommendations compare against. When empty the
	// highest-scored entry of VersionPoints is used.
	LatestVersion string
}

// DefaultPolicy returns the version table of the 0.8 release line.
func DefaultPolicy() Policy {
	return Policy{
		UptimeCap: DefaultUptimeCap,
		VersionPoints: map[string]float64{
			"0.8.0": 15,
			"0.7.3": 13,
			"0.7.2": 11,
			"0.7.1": 9,
			"0.7.0": 7,
		},
		VersionFallback: DefaultVersionFallback,
	}
}

// VersionScore looks up the exact version string, clamped to [0,15].
func (p Policy) VersionScore(version string) float64 {
	pts, ok := p.VersionPoints[version]
	if !ok {
		pts = p.VersionFallback
	}
	return clamp(pts, 0, MaxVersion)
}

// Latest returns the configured latest version, or the best-scored known version.
// Ties on points resolve to the lexically greatest version string.
func (p Policy) Latest() string {
	if p.LatestVersion != "" {
		return p.LatestVersion
	}
	versions := make([]string, 0, len(p.VersionPoints))
	for v := range p.VersionPoints {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool {
		pi, pj := p.VersionPoints[versions[i]], p.VersionPoints[versions[j]]
		if pi != pj {
			return pi > pj
		}
		return versions[i] > versions[j]
	})
	if len(versions) == 0 {
		return ""
	}
	return versions[0]
}

func (p Policy) uptimeCap() float64 {
	if p.UptimeCap <= 0 {
		return DefaultUptimeCap
	}
	return p.UptimeCap
}

// UptimePercent expresses uptime as a share of the cap, in [0,100].
func (p Policy) UptimePercent(uptimeSeconds float64) float64 {
	return clamp(sanitize(uptimeSeconds)/p.uptimeCap()*100, 0, 100)
}
