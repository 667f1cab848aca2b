package gositemapindexnow

// ChangeSet is the classification of URLs between two sitemap snapshots.
// The three lists are disjoint; unchanged URLs appear in none of them.
type ChangeSet struct {
	New     []string
	Changed []string
	Deleted []string
}

// Submittable returns the URLs worth notifying: new ones, then changed ones.
func (c ChangeSet) Submittable() []string {
	out := make([]string, 0, len(c.New)+len(c.Changed))
	out = append(out, c.New...)
	return append(out, c.Changed...)
}

// Empty reports whether nothing was added, changed or deleted.
func (c ChangeSet) Empty() bool {
	return len(c.New) == 0 && len(c.Changed) == 0 && len(c.Deleted) == 0
}

// Diff compares current against previous. New and Changed follow the order of
// current, Deleted follows the order of previous. A lastmod that is present on
// one side only counts as a change.
func Diff(current, previous *URLMap) ChangeSet {
	var changes ChangeSet

	for _, loc := range current.Keys() {
		lastmod, _ := current.Get(loc)
		prev, ok := previous.Get(loc)
		if !ok {
			changes.New = append(changes.New, loc)
			continue
		}
		if lastmod != prev {
			changes.Changed = append(changes.Changed, loc)
		}
	}

	for _, loc := range previous.Keys() {
		if !current.Has(loc) {
			changes.Deleted = append(changes.Deleted, loc)
		}
	}

	return changes
}

// FirstRun classifies every URL of current as new. It is used when no
// previous snapshot exists, so nothing can be changed or deleted.
func FirstRun(current *URLMap) ChangeSet {
	return ChangeSet{New: current.Keys()}
}
