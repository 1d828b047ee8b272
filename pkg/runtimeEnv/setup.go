// Package runtimeEnv bundles the process-level setup steps that don't
// belong to any one domain component: .env loading, privilege
// dropping, and systemd readiness notification.
package runtimeEnv

import (
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/gast-project/gast-orchestrator/pkg/log"
)

// LoadEnv reads a .env file and applies every KEY=VALUE pair it finds
// to the process environment, skipping any that are already set.
func LoadEnv(file string) error {
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return nil
	}
	return godotenv.Load(file)
}

// DropPrivileges changes the process' user and group to those named.
// The go runtime applies the underlying syscall to every OS thread,
// not just the calling one.
func DropPrivileges(username string, group string) error {
	if group != "" {
		g, err := user.LookupGroup(group)
		if err != nil {
			log.Warn("runtimeEnv: error while looking up group")
			return err
		}

		gid, _ := strconv.Atoi(g.Gid)
		if err := syscall.Setgid(gid); err != nil {
			log.Warn("runtimeEnv: error while setting gid")
			return err
		}
	}

	if username != "" {
		u, err := user.Lookup(username)
		if err != nil {
			log.Warn("runtimeEnv: error while looking up user")
			return err
		}

		uid, _ := strconv.Atoi(u.Uid)
		if err := syscall.Setuid(uid); err != nil {
			log.Warn("runtimeEnv: error while setting uid")
			return err
		}
	}

	return nil
}

// SystemdNotifiy informs systemd of a readiness/status change, a no-op
// if the process was not started under systemd.
// https://www.freedesktop.org/software/systemd/man/sd_notify.html
func SystemdNotifiy(ready bool, status string) {
	if os.Getenv("NOTIFY_SOCKET") == "" {
		return
	}

	args := []string{fmt.Sprintf("--pid=%d", os.Getpid())}
	if ready {
		args = append(args, "--ready")
	}

	if status != "" {
		args = append(args, fmt.Sprintf("--status=%s", status))
	}

	cmd := exec.Command("systemd-notify", args...)
	cmd.Run() // errors ignored on purpose, there is not much to do anyways.
}
