/*
 * MIT License
 *
 * Copyright (c) 2025 Nicolas JUHEL
 *
 * Permission is hereby granted, free of charge, to any person obtaining a copy
 * of this software and associated documentation files (the "Software"), to deal
 * in the Software without restriction, including without limitation the rights
 * to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
 * copies of the Software, and to permit persons to whom the Software is
 * furnished to do so, subject to the following conditions:
 *
 * The above copyright notice and this permission notice shall be included in all
 * copies or substantial portions of the Software.
 *
 * THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
 * IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
 * FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
 * AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
 * LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
 * OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
 * SOFTWARE.
 *
 *
 */

// Package console runs the interactive "stop"/"stat" line prompt each
// command front-end offers on its controlling terminal, reading one command
// per line from stdin the same way the broker's own console helper scans
// for prompted input.
package console

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"github.com/fatih/color"
)

var (
	colorPrompt = color.New(color.FgGreen)
	colorError  = color.New(color.FgRed)
)

// Command is one named console verb and the action it runs. Action returns
// true to keep the console running, false to end the Run loop.
type Command struct {
	Name string
	Help string
	Run  func(args []string) bool
}

// Console is a line-oriented command prompt over an io.Reader/io.Writer
// pair, dispatching each line's first word to a registered Command.
type Console struct {
	in       *bufio.Scanner
	out      io.Writer
	prompt   string
	commands map[string]Command
	order    []string
}

// New builds a Console reading lines from in and writing prompts/output to
// out, labeled by prompt (e.g. "wtlog-lander> ").
func New(in io.Reader, out io.Writer, prompt string) *Console {
	return &Console{
		in:       bufio.NewScanner(in),
		out:      out,
		prompt:   prompt,
		commands: make(map[string]Command),
	}
}

// Register adds cmd to the console's dispatch table.
func (c *Console) Register(cmd Command) {
	if _, exists := c.commands[cmd.Name]; !exists {
		c.order = append(c.order, cmd.Name)
	}
	c.commands[cmd.Name] = cmd
}

func (c *Console) printPrompt() {
	colorPrompt.Fprintf(c.out, "%s", c.prompt)
}

// Run blocks reading lines until stdin closes, a registered command returns
// false, or a "quit"/"exit" line is read.
func (c *Console) Run() {
	c.printPrompt()

	for c.in.Scan() {
		line := strings.TrimSpace(c.in.Text())
		if line == "" {
			c.printPrompt()
			continue
		}

		fields := strings.Fields(line)
		name, args := fields[0], fields[1:]

		if name == "quit" || name == "exit" {
			return
		}

		if name == "help" {
			c.printHelp()
			c.printPrompt()
			continue
		}

		cmd, ok := c.commands[name]
		if !ok {
			colorError.Fprintf(c.out, "unknown command %q, try \"help\"\n", name)
			c.printPrompt()
			continue
		}

		if !cmd.Run(args) {
			return
		}
		c.printPrompt()
	}
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, "available commands:")
	for _, name := range c.order {
		fmt.Fprintf(c.out, "  %-10s %s\n", name, c.commands[name].Help)
	}
	fmt.Fprintln(c.out, "  help       show this message")
	fmt.Fprintln(c.out, "  quit       leave the console (the process keeps running)")
}
