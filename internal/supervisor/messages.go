package supervisor

import (
	"fmt"
	"strings"
	"time"
)

const (
	product    = "DaemonSitter"
	timeLayout = "2006-01-02 15:04:05"
)

func alertMessage(host, service string, at time.Time) (subject, body string) {
	return "ALERT: daemon(s) down on " + host,
		fmt.Sprintf("Restarting %s failed at %s", service, at.Format(timeLayout))
}

func heartbeatMessage(host string, at time.Time, running, down []string, uptime time.Duration) (subject, body string) {
	var b strings.Builder
	fmt.Fprintf(&b, "At %s:\t%d daemons %s are working fine and %d %s of them are not.",
		at.Format(timeLayout), len(running), nameList(running), len(down), nameList(down))
	if uptime > 0 {
		fmt.Fprintf(&b, "\nHost uptime: %s", uptime.Truncate(time.Second))
	}
	return product + " Heartbeat from " + host + ".", b.String()
}

func startupMessage(host string, services []string) (subject, body string) {
	return product + " started on " + host + ".",
		"The " + product + " will monitor the following daemons: \n" + strings.Join(services, "\n")
}

func lastGaspMessage(host string, at time.Time) (subject, body string) {
	return product + " exiting on " + host + ".",
		product + " is exiting at: " + at.Format(timeLayout)
}

func nameList(names []string) string {
	return "[" + strings.Join(names, ", ") + "]"
}
