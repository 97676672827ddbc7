package catalog

// Profile is a named, session-scoped allow-list of categories. Filtering
// is advisory: it trims what tools/list advertises, never what tools/call
// accepts. Categories == nil means no filtering.
type Profile struct {
	Name       string
	Categories []Category
}

// Unfiltered reports whether the profile exposes the whole catalog.
func (p Profile) Unfiltered() bool {
	return len(p.Categories) == 0
}

func (p Profile) allows(c Category) bool {
	if p.Unfiltered() {
		return true
	}
	for _, allowed := range p.Categories {
		if allowed == c {
			return true
		}
	}
	return false
}

// Built-in profile names.
const (
	ProfileFull     = "full"
	ProfileCore     = "core"
	ProfileAdvanced = "advanced"
	ProfilePipeline = "pipeline"
)

// Profiles resolves profile names to category allow-lists. Read-only
// after construction.
type Profiles struct {
	byName      map[string]Profile
	defaultName string
}

// DefaultProfiles builds the built-in profile table. The fallback profile
// is used for unknown names so unconfigured clients keep working.
func DefaultProfiles(fallback string) *Profiles {
	p := &Profiles{byName: make(map[string]Profile), defaultName: fallback}
	p.Register(Profile{Name: ProfileFull})
	p.Register(Profile{Name: ProfileCore, Categories: []Category{
		CategoryNavigation, CategoryInteraction, CategoryCapture, CategoryConsole,
	}})
	p.Register(Profile{Name: ProfileAdvanced, Categories: []Category{
		CategoryNavigation, CategoryInteraction, CategoryCapture, CategoryConsole,
		CategoryEvaluation, CategoryNetwork, CategoryDialog, CategorySession,
	}})
	p.Register(Profile{Name: ProfilePipeline, Categories: []Category{
		CategoryWorkflow, CategoryRecovery, CategoryTelemetry, CategoryCapture,
	}})
	if _, ok := p.byName[fallback]; !ok {
		p.defaultName = ProfileFull
	}
	return p
}

// Register adds or replaces a profile.
func (p *Profiles) Register(profile Profile) {
	p.byName[profile.Name] = profile
}

// Resolve maps a profile name to its definition. Unknown names fall back
// to the configured default rather than failing.
func (p *Profiles) Resolve(name string) Profile {
	if profile, ok := p.byName[name]; ok {
		return profile
	}
	return p.byName[p.defaultName]
}

// VisibleCategories returns the categories a profile exposes, or nil for
// no filtering.
func (p *Profiles) VisibleCategories(name string) []Category {
	profile := p.Resolve(name)
	if profile.Unfiltered() {
		return nil
	}
	out := make([]Category, len(profile.Categories))
	copy(out, profile.Categories)
	return out
}

// VisibleTools filters the catalog down to the profile's categories.
// Pure function of static config; affects discovery only.
func (p *Profiles) VisibleTools(name string, c *Catalog) []ToolDescriptor {
	profile := p.Resolve(name)
	if profile.Unfiltered() {
		return c.All()
	}
	var out []ToolDescriptor
	for _, tool := range c.All() {
		if tool.Category == "" {
			// Uncategorized tools are never advertised by a filtering
			// profile.
			continue
		}
		if profile.allows(tool.Category) {
			out = append(out, tool)
		}
	}
	return out
}
