//go:build darwin

package snapshot

import "golang.org/x/sys/unix"

// readMemory reports free memory as the kernel's free page count, which excludes
// inactive and purgeable pages.
func readMemory() (uint64, uint64, error) {
	total, err := unix.SysctlUint64("hw.memsize")
	if err != nil {
		return 0, 0, err
	}
	pages, err := unix.SysctlUint32("vm.page_free_count")
	if err != nil {
		return 0, 0, err
	}
	pageSize, err := unix.SysctlUint32("hw.pagesize")
	if err != nil {
		return 0, 0, err
	}
	return total, pagesToBytes(pages, pageSize), nil
}
