package daemon

// Policy picks which wallpaper, by position in the collection, to show on an
// output for a workspace. ok is false when nothing should be applied.
type Policy interface {
	Select(output int, workspace int64, count int) (index int, ok bool)
}

// ModuloPolicy cycles through the wallpapers by workspace number
type ModuloPolicy struct{}

// Select returns workspace mod count
func (ModuloPolicy) Select(_ int, workspace int64, count int) (int, bool) {
	if workspace < 0 || count <= 0 {
		return 0, false
	}
	return int(workspace % int64(count)), true
}

// MapPolicy assigns wallpapers to specific workspaces and falls back to
// ModuloPolicy for the rest
type MapPolicy struct {
	Assignments map[int64]int
}

// Select returns the assigned index when it is in range
func (p MapPolicy) Select(output int, workspace int64, count int) (int, bool) {
	if workspace < 0 || count <= 0 {
		return 0, false
	}
	if idx, ok := p.Assignments[workspace]; ok && idx >= 0 && idx < count {
		return idx, true
	}
	return ModuloPolicy{}.Select(output, workspace, count)
}
