package server

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/NicolasHaas/openchat/pkg/protocol"
)

// runConsole reads operator lines from in and routes them under the console
// identity. "exit" or end of input shuts the server down. Lines have no
// length limit.
func (s *Server) runConsole(in io.Reader) error {
	reader := bufio.NewReaderSize(in, protocol.BufferSize)

	for {
		line, err := reader.ReadString('\n')
		if s.ctx.Err() != nil {
			return nil
		}
		if line != "" {
			line = strings.TrimSuffix(strings.TrimSuffix(line, "\n"), "\r")
			cmd := protocol.Parse(line, protocol.DialectConsole)
			if s.router.Dispatch(s.cfg.Name, cmd) {
				s.router.print(protocol.System("Server shutting down..."))
				s.Shutdown()
				return nil
			}
		}
		if err != nil {
			s.Shutdown()
			if errors.Is(err, io.EOF) {
				return nil
			}
			slog.Error("console read error", "err", err)
			return err
		}
	}
}
