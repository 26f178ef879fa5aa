package browser

import (
	"os"
	"runtime"
	"strings"

	"github.com/chromedp/chromedp"
)

// platformInfo captures the host traits that influence Chrome launch
// arguments.
type platformInfo struct {
	os            string
	containerized bool
}

// detectPlatform inspects the host. Containers are recognized by the
// /.dockerenv marker or container runtimes named in /proc/1/cgroup.
func detectPlatform() platformInfo {
	return platformInfo{
		os:            runtime.GOOS,
		containerized: inContainer(),
	}
}

func inContainer() bool {
	if _, err := os.Stat("/.dockerenv"); err == nil {
		return true
	}
	data, err := os.ReadFile("/proc/1/cgroup")
	if err != nil {
		return false
	}
	content := string(data)
	for _, marker := range []string{"docker", "kubepods", "containerd", "lxc"} {
		if strings.Contains(content, marker) {
			return true
		}
	}
	return false
}

// launchOptions selects a safe chromedp allocator option set for the
// detected platform. Containers usually lack a usable sandbox and have
// a tiny /dev/shm, so both are disabled there.
func launchOptions(p platformInfo, userAgent string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", "new"),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("hide-scrollbars", true),
		chromedp.Flag("mute-audio", true),
		chromedp.Flag("enable-automation", false),
	)
	if userAgent != "" {
		opts = append(opts, chromedp.UserAgent(userAgent))
	}
	if p.containerized {
		opts = append(opts,
			chromedp.NoSandbox,
			chromedp.Flag("disable-dev-shm-usage", true),
		)
	}
	if p.os == "linux" && !p.containerized {
		opts = append(opts, chromedp.Flag("use-angle", "vulkan"))
	}
	return opts
}
