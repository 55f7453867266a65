package local

// SetBeforeRename installs a hook that runs after the temp file is complete
// and before it is renamed over the destination.
func (s *BatchStore) SetBeforeRename(fn func(tmp, dst string) error) {
	s.beforeRename = fn
}
