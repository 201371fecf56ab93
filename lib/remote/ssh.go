// Copyright 2026 The Devgrid Authors
// SPDX-License-Identifier: Apache-2.0

package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path"
	"strings"

	"github.com/pkg/sftp"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/devgrid-foundation/devgrid/lib/lifecycle"
	"github.com/devgrid-foundation/devgrid/lib/topology"
)

// SSH is the Executor for a non-local machine. Each operation dials a
// fresh connection: grid operations are rare and long-lived enough
// that holding idle SSH sessions open buys nothing.
type SSH struct {
	machine *topology.MachineConfig
	logger  *slog.Logger
}

// NewSSH returns an executor for the given machine.
func NewSSH(machine *topology.MachineConfig, logger *slog.Logger) *SSH {
	return &SSH{machine: machine, logger: logger}
}

func (s *SSH) dial(ctx context.Context) (*ssh.Client, error) {
	key, err := os.ReadFile(s.machine.PrivateKeyFile)
	if err != nil {
		return nil, fmt.Errorf("reading private key: %w", err)
	}
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("parsing private key %s: %w", s.machine.PrivateKeyFile, err)
	}

	hostKeys := ssh.InsecureIgnoreHostKey() //nolint:gosec dev machines
	if s.machine.KnownHostsFile != "" {
		hostKeys, err = knownhosts.New(s.machine.KnownHostsFile)
		if err != nil {
			return nil, fmt.Errorf("loading known hosts %s: %w", s.machine.KnownHostsFile, err)
		}
	}

	config := &ssh.ClientConfig{
		User:            s.machine.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeys,
	}

	port := s.machine.Port
	if port == 0 {
		port = 22
	}
	address := net.JoinHostPort(s.machine.Host, fmt.Sprint(port))
	dialer := net.Dialer{}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}
	sshConn, channels, requests, err := ssh.NewClientConn(conn, address, config)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("ssh handshake with %s: %w", address, err)
	}
	return ssh.NewClient(sshConn, channels, requests), nil
}

// CopyFile implements Executor using an SFTP subsystem session.
func (s *SSH) CopyFile(ctx context.Context, localPath, remotePath string) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	sftpClient, err := sftp.NewClient(client)
	if err != nil {
		return fmt.Errorf("opening sftp session: %w", err)
	}
	defer sftpClient.Close()

	if err := sftpClient.MkdirAll(path.Dir(remotePath)); err != nil {
		return fmt.Errorf("creating %s: %w", path.Dir(remotePath), err)
	}

	src, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("opening %s: %w", localPath, err)
	}
	defer src.Close()

	dst, err := sftpClient.Create(remotePath)
	if err != nil {
		return fmt.Errorf("creating %s on %s: %w", remotePath, s.machine.Host, err)
	}
	if _, err := dst.ReadFrom(src); err != nil {
		dst.Close()
		return fmt.Errorf("writing %s on %s: %w", remotePath, s.machine.Host, err)
	}
	return dst.Close()
}

// Run implements Executor. The remote devgrid binary is invoked in
// progress mode; its stdout carries the CBOR event stream back over
// the session and its stderr is relayed through the logger.
func (s *SSH) Run(ctx context.Context, args []string, onEvent func(lifecycle.Event)) error {
	client, err := s.dial(ctx)
	if err != nil {
		return err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return fmt.Errorf("opening session on %s: %w", s.machine.Host, err)
	}
	defer session.Close()

	stdout, err := session.StdoutPipe()
	if err != nil {
		return fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr, err := session.StderrPipe()
	if err != nil {
		return fmt.Errorf("creating stderr pipe: %w", err)
	}

	binary := s.machine.Binary
	if binary == "" {
		binary = "devgrid"
	}
	command := commandLine(binary, append(args, ProgressFlag))
	if err := session.Start(command); err != nil {
		return fmt.Errorf("starting %q on %s: %w", command, s.machine.Host, err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		relay := Subprocess{Logger: s.logger}
		relay.relayLogs(stderr)
	}()

	decodeErr := DecodeStream(stdout, onEvent)
	waitErr := session.Wait()
	<-done
	if waitErr != nil {
		return fmt.Errorf("%q on %s: %w", command, s.machine.Host, waitErr)
	}
	return decodeErr
}

// commandLine renders argv as a shell command with single-quote
// escaping, since an SSH exec request carries a string, not a vector.
func commandLine(binary string, args []string) string {
	parts := make([]string, 0, len(args)+1)
	for _, arg := range append([]string{binary}, args...) {
		parts = append(parts, "'"+strings.ReplaceAll(arg, "'", `'\''`)+"'")
	}
	return strings.Join(parts, " ")
}
