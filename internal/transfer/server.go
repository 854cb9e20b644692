// Package transfer implements the file transfer commands served on a control
// connection and the data channel each successful command streams its
// payload over.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/ftserve/ftserve/internal/core"
	"github.com/ftserve/ftserve/internal/core/client"
	"github.com/ftserve/ftserve/internal/core/codec"
	"github.com/ftserve/ftserve/internal/core/data"
)

const ackCommand = "ACK"

// Server handles LIST, GET, and CD for every client on a control connection.
type Server struct {
	Name   string
	Config *core.Config
	Logger *logrus.Logger
	// DB is where each command's outcome is recorded. Nil disables history.
	DB *gorm.DB

	rootDir  string
	resolver *client.Resolver
	dialer   net.Dialer
}

func (s *Server) Identifier() string { return s.Name }

func (s *Server) Init(ctx context.Context) error {
	root, err := filepath.Abs(s.Config.Server.RootDir)
	if err != nil {
		return fmt.Errorf("error resolving root directory: %w", err)
	}
	if _, err := changeDirectory(root); err != nil {
		return fmt.Errorf("root directory %s is not usable: %w", root, err)
	}
	s.rootDir = root

	if s.Config.Server.ReverseLookup {
		s.resolver = client.NewResolver(s.Config.Server.LookupCacheTTL)
	}
	s.dialer = net.Dialer{Timeout: s.Config.Timeouts.DataDial}
	return nil
}

// SetUpClient starts the session in the root directory and looks up a display
// name for the client.
func (s *Server) SetUpClient(ctx context.Context, c *client.Client) {
	c.WorkingDir = s.rootDir
	if s.resolver != nil {
		c.SetHostname(s.resolver.Hostname(ctx, c.IPAddr()))
	}
}

// session carries the state of one command through the handshake.
type session struct {
	c      *client.Client
	logger *logrus.Entry
	record *data.Transfer
}

// Handle runs one command from receipt through the completion ACK. A nil
// return means the client may issue another command on the connection.
func (s *Server) Handle(ctx context.Context, c *client.Client, line *codec.Line) error {
	sess := &session{
		c: c,
		logger: s.Logger.WithFields(logrus.Fields{
			"session": c.SessionID,
			"client":  c.DisplayName(),
		}),
		record: &data.Transfer{
			SessionID:  c.SessionID,
			ClientIP:   c.IPAddr(),
			ClientHost: c.Hostname(),
			StartedAt:  time.Now(),
		},
	}
	defer s.recordTransfer(sess)

	cmd, err := ParseCommand(line)
	sess.record.Command = cmd.Verb.String()
	sess.record.DataPort = cmd.DataPort
	if err != nil {
		sess.logger.Infof("invalid command %q", line.Text())
		return s.reject(sess, err)
	}

	if cmd.Verb.TakesArgument() && cmd.Arg == "" {
		next, err := c.ReadLine(s.Config.Timeouts.Command)
		if err != nil {
			return s.endSession(sess, "reading argument", err)
		}
		cmd.Arg = next.Text()
	}
	sess.record.Argument = cmd.Arg

	payload, err := s.preparePayload(sess, cmd)
	if err != nil {
		return s.reject(sess, err)
	}
	defer payload.Close()

	return s.transfer(ctx, sess, cmd, payload)
}

// preparePayload performs the filesystem side of cmd and returns what will be
// sent over the data channel.
func (s *Server) preparePayload(sess *session, cmd Command) (Payload, error) {
	c := sess.c

	switch cmd.Verb {
	case VerbList:
		sess.logger.Infof("List directory requested on port %d.", cmd.DataPort)
		listing, err := listDirectory(c.WorkingDir)
		if err != nil {
			sess.logger.Warnf("error listing %s: %v", c.WorkingDir, err)
			return nil, err
		}
		sess.logger.Infof("Sending directory contents to %s:%d", c.DisplayName(), cmd.DataPort)
		return newTextPayload(listing), nil

	case VerbCD:
		sess.logger.Infof("Change directory to %q requested.", cmd.Arg)
		target := resolvePath(c.WorkingDir, cmd.Arg)
		dir, err := changeDirectory(target)
		if err != nil {
			s.logRejection(sess, err)
			if errors.Is(err, os.ErrNotExist) {
				s.logClosestMatch(sess, target)
			}
			return nil, err
		}
		c.WorkingDir = dir
		sess.logger.Infof("Sending current working directory to %s:%d", c.DisplayName(), cmd.DataPort)
		return newTextPayload(dir), nil

	case VerbGet:
		sess.logger.Infof("File %q requested on port %d.", cmd.Arg, cmd.DataPort)
		path := resolvePath(c.WorkingDir, cmd.Arg)
		payload, err := openForTransfer(path)
		if err != nil {
			s.logRejection(sess, err)
			var statusErr *StatusError
			if errors.As(err, &statusErr) && statusErr.Status == StatusFileNotFound {
				s.logClosestMatch(sess, path)
			}
			return nil, err
		}
		sess.logger.Infof("Sending %q (%s) to %s:%d",
			cmd.Arg, humanize.IBytes(uint64(payload.Size())), c.DisplayName(), cmd.DataPort)
		return payload, nil

	default:
		return nil, statusError(StatusInvalidCommand, fmt.Errorf("unhandled verb %v", cmd.Verb))
	}
}

// transfer announces the payload, waits for the client to be ready, streams
// the payload on a new data channel, and waits for the client to confirm it.
func (s *Server) transfer(ctx context.Context, sess *session, cmd Command, payload Payload) error {
	c := sess.c
	sess.record.AnnouncedBytes = payload.Size()

	if err := c.SendLine(strconv.FormatInt(payload.Size(), 10)); err != nil {
		return s.endSession(sess, "announcing size", err)
	}

	ack, err := c.ReadLine(s.Config.Timeouts.Ack)
	if err != nil {
		return s.endSession(sess, "waiting for ACK", err)
	}
	if ack.Text() != ackCommand {
		sess.logger.Infof("Invalid response. Sending error message to %s:%s", c.DisplayName(), c.Port())
		return s.reject(sess, statusError(StatusInvalidResponse, fmt.Errorf("expected ACK, got %q", ack.Text())))
	}

	dc, err := dialDataChannel(ctx, &s.dialer, c.IPAddr(), cmd.DataPort)
	if err != nil {
		sess.logger.Warnf("%v", err)
		sess.record.Status = "DATA CHANNEL FAILED"
		return fmt.Errorf("%w: %v", client.ErrSessionClosed, err)
	}
	defer dc.Close()
	dc.chunkSize = s.Config.Transfer.ChunkSize
	dc.writeTimeout = s.Config.Timeouts.DataWrite

	result, err := dc.Stream(payload)
	sess.record.SentBytes = result.Sent
	sess.record.Digest = fmt.Sprintf("%016x", result.Digest)
	switch {
	case errors.Is(err, codec.ErrPeerClosed):
		sess.logger.Infof("Client disconnected before transfer was complete (%s of %s sent).",
			humanize.IBytes(uint64(result.Sent)), humanize.IBytes(uint64(payload.Size())))
	case err != nil:
		sess.logger.Warnf("error streaming payload: %v", err)
		sess.record.Status = "STREAM FAILED"
		return fmt.Errorf("%w: %v", client.ErrSessionClosed, err)
	case result.Sent != payload.Size():
		sess.logger.Warnf("announced %d bytes but streamed %d", payload.Size(), result.Sent)
	default:
		sess.logger.Debugf("streamed %s, xxh3 %s", humanize.IBytes(uint64(result.Sent)), sess.record.Digest)
	}

	ack, err = c.ReadLine(s.Config.Timeouts.Ack)
	if errors.Is(err, client.ErrSessionEnded) {
		sess.logger.Infof("%s disconnected before acknowledging receipt of data.", c.DisplayName())
		sess.record.Status = "UNACKNOWLEDGED"
		return err
	} else if err != nil {
		return s.endSession(sess, "waiting for completion ACK", err)
	}
	if ack.Text() != ackCommand {
		sess.logger.Info("Invalid response. File transfer might not be successful.")
		sess.record.Status = "UNACKNOWLEDGED"
		return fmt.Errorf("%w: expected completion ACK, got %q", client.ErrSessionClosed, ack.Text())
	}

	sess.record.Status = "OK"
	return nil
}

// reject sends the status carried by err to the client and ends the session.
func (s *Server) reject(sess *session, err error) error {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		statusErr = statusError(StatusErrorOccurred, err)
	}
	sess.record.Status = statusErr.Status

	if sendErr := sess.c.SendLine(statusErr.Status); sendErr != nil {
		sess.logger.Warnf("error sending %q: %v", statusErr.Status, sendErr)
	}
	return statusErr
}

// endSession records why a session ended before the command could finish.
func (s *Server) endSession(sess *session, step string, err error) error {
	if errors.Is(err, client.ErrSessionEnded) {
		sess.logger.Infof("%s disconnected", sess.c.DisplayName())
		sess.record.Status = "DISCONNECTED"
		return err
	}
	sess.record.Status = "ERROR"
	return fmt.Errorf("%s: %w", step, err)
}

func (s *Server) logRejection(sess *session, err error) {
	var statusErr *StatusError
	if !errors.As(err, &statusErr) {
		return
	}

	var reason string
	switch statusErr.Status {
	case StatusAccessDenied:
		reason = "Access denied."
	case StatusFileNotFound:
		reason = "File not found."
	case StatusDirNotFound:
		reason = "Directory not found."
	case StatusNotADirectory:
		reason = "Not a directory."
	case StatusCannotTransferDir:
		reason = "Specified file is a directory."
	case StatusFileReadError:
		reason = "File read error."
	default:
		reason = "Some other error occurred."
	}
	sess.logger.Infof("%s Sending error message to %s:%s", reason, sess.c.DisplayName(), sess.c.Port())
}

func (s *Server) logClosestMatch(sess *session, path string) {
	if match := closestName(filepath.Dir(path), filepath.Base(path)); match != "" {
		sess.logger.Debugf("closest match for %q is %q", filepath.Base(path), match)
	}
}

func (s *Server) recordTransfer(sess *session) {
	if s.DB == nil {
		return
	}
	sess.record.Duration = time.Since(sess.record.StartedAt)
	if err := data.RecordTransfer(s.DB, sess.record); err != nil {
		sess.logger.Warnf("error recording transfer history: %v", err)
	}
}
