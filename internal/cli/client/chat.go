package client

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Messages []chatMessage `json:"messages"`
}

// ChatCmd asks a question, or starts an interactive session when no
// question is given.
func ChatCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "chat [question]",
		Short: "Ask the knowledge base",
		Long: `Ask a question and stream the grounded answer. Without a question, starts
an interactive session that keeps the conversation history; type "exit" to quit.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			api, err := NewAPIClientWithCmd(cmd)
			if err != nil {
				return err
			}
			s := &chatSession{api: api, out: cmd.OutOrStdout()}
			if len(args) > 0 {
				return s.ask(cmd, strings.Join(args, " "))
			}
			return s.interactive(cmd, cmd.InOrStdin())
		},
	}
	return cmd
}

type chatSession struct {
	api     *APIClient
	out     io.Writer
	history []chatMessage
}

// ask sends question with the history so far and records the exchange.
func (s *chatSession) ask(cmd *cobra.Command, question string) error {
	messages := append(append([]chatMessage{}, s.history...), chatMessage{Role: "user", Content: question})

	var answer bytes.Buffer
	err := s.api.Stream(cmd.Context(), "/chat", chatRequest{Messages: messages}, io.MultiWriter(s.out, &answer))
	fmt.Fprintln(s.out)
	if err != nil {
		return err
	}

	s.history = append(messages, chatMessage{Role: "assistant", Content: answer.String()})
	return nil
}

func (s *chatSession) interactive(cmd *cobra.Command, in io.Reader) error {
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(s.out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(s.out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "exit", "quit":
			return nil
		}
		if err := s.ask(cmd, line); err != nil {
			// Rate limits and provider errors end the turn, not the session.
			fmt.Fprintf(cmd.ErrOrStderr(), "error: %v\n", err)
		}
	}
}
