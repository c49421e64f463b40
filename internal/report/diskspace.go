package report

import "golang.org/x/sys/unix"

// CacheDiskSpace reports the bytes available on the filesystem backing the
// cache directory, the same `unix.Statfs`/`Bavail * Bsize` computation
// cmd/autobuilder/autobuilder.go's serveStatusPage uses to report free
// space next to its build status (a supplemented feature: spec.md says
// nothing about disk reporting, but the original dashboard surfaces
// cache-health information and this is the idiomatic way the teacher does
// it).
func (r *Report) CacheDiskSpace() (uint64, error) {
	var fs unix.Statfs_t
	if err := unix.Statfs(r.cfg.CacheDir, &fs); err != nil {
		return 0, err
	}
	return fs.Bavail * uint64(fs.Bsize), nil
}
