package main

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/park285/cheese-duel/internal/domain"
	"github.com/park285/cheese-duel/internal/msgcat"
	"github.com/park285/cheese-duel/internal/render"
	"github.com/park285/cheese-duel/internal/rules"
	"github.com/park285/cheese-duel/internal/turn"
)

func TestParseCommand(t *testing.T) {
	e2 := domain.Square{File: 4, Rank: 1}
	e4 := domain.Square{File: 4, Rank: 3}
	cases := []struct {
		in   string
		kind commandKind
		from domain.Square
		to   domain.Square
	}{
		{"", cmdNone, domain.Square{}, domain.Square{}},
		{"  e2 ", cmdSquare, e2, domain.Square{}},
		{"E2", cmdSquare, e2, domain.Square{}},
		{"e2e4", cmdMove, e2, e4},
		{"e2-e4", cmdMove, e2, e4},
		{"e2 e4", cmdMove, e2, e4},
		{"e7e8q", cmdMove, domain.Square{File: 4, Rank: 6}, domain.Square{File: 4, Rank: 7}},
		{"new", cmdNew, domain.Square{}, domain.Square{}},
		{"restart", cmdNew, domain.Square{}, domain.Square{}},
		{"board", cmdBoard, domain.Square{}, domain.Square{}},
		{"save", cmdSave, domain.Square{}, domain.Square{}},
		{"help", cmdHelp, domain.Square{}, domain.Square{}},
		{"quit", cmdQuit, domain.Square{}, domain.Square{}},
		{"exit", cmdQuit, domain.Square{}, domain.Square{}},
		{"z9", cmdUnknown, domain.Square{}, domain.Square{}},
		{"castle", cmdUnknown, domain.Square{}, domain.Square{}},
	}
	for _, tc := range cases {
		got := parseCommand(tc.in)
		if got.kind != tc.kind {
			t.Fatalf("%q: kind = %d, want %d", tc.in, got.kind, tc.kind)
		}
		if tc.kind == cmdSquare || tc.kind == cmdMove {
			if got.from != tc.from {
				t.Fatalf("%q: from = %s, want %s", tc.in, got.from, tc.from)
			}
		}
		if tc.kind == cmdMove && got.to != tc.to {
			t.Fatalf("%q: to = %s, want %s", tc.in, got.to, tc.to)
		}
	}
}

func TestParseCommandPromotion(t *testing.T) {
	cases := map[string]struct {
		kind      commandKind
		promotion domain.PieceKind
	}{
		"e7e8":   {cmdMove, domain.NoPieceKind},
		"e7e8q":  {cmdMove, domain.Queen},
		"e7e8n":  {cmdMove, domain.Knight},
		"e7-e8R": {cmdMove, domain.Rook},
		"b2b1b":  {cmdMove, domain.Bishop},
		"e7e8k":  {cmdUnknown, domain.NoPieceKind},
		"e7e8p":  {cmdUnknown, domain.NoPieceKind},
		"e7e8x":  {cmdUnknown, domain.NoPieceKind},
	}
	for in, want := range cases {
		got := parseCommand(in)
		if got.kind != want.kind || got.promotion != want.promotion {
			t.Fatalf("%q: kind = %d promotion = %v, want %d %v", in, got.kind, got.promotion, want.kind, want.promotion)
		}
	}
}

func newTestShell(t *testing.T) (*shell, *bytes.Buffer, *bytes.Buffer) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	loop := turn.NewEventLoop(0)
	go func() { _ = loop.Run(ctx) }()
	t.Cleanup(cancel)

	var boardOut, shellOut bytes.Buffer
	board := render.NewTerminal(&boardOut, domain.White, false)
	texts := msgcat.MustDefault()
	ctrl := turn.NewController(loop, rules.New(), nil, board, texts, turn.Config{
		HumanSide:    domain.White,
		HandoffDelay: time.Hour,
	})
	ctrl.Start()
	loop.Do(func() {})

	return &shell{
		out:   &shellOut,
		texts: texts,
		loop:  loop,
		ctrl:  ctrl,
		board: board,
	}, &boardOut, &shellOut
}

func TestShellSelectsAndMoves(t *testing.T) {
	sh, boardOut, shellOut := newTestShell(t)

	boardOut.Reset()
	if !sh.handle("e2") {
		t.Fatalf("shell stopped")
	}
	sh.loop.Do(func() {})
	if !strings.Contains(boardOut.String(), "[P]") {
		t.Fatalf("selection not drawn:\n%s", boardOut.String())
	}

	sh.handle("e4")
	sh.loop.Do(func() {})
	if !sh.enginesTurn() {
		t.Fatalf("engine should be on move")
	}

	sh.handle("d2d4")
	if !strings.Contains(shellOut.String(), "Wait for the engine") {
		t.Fatalf("out = %q", shellOut.String())
	}
}

func TestShellHelpUnknownAndQuit(t *testing.T) {
	sh, _, shellOut := newTestShell(t)

	sh.handle("help")
	if !strings.Contains(shellOut.String(), "Commands:") {
		t.Fatalf("help = %q", shellOut.String())
	}

	shellOut.Reset()
	sh.handle("castle")
	if !strings.Contains(shellOut.String(), `"castle"`) {
		t.Fatalf("unknown = %q", shellOut.String())
	}

	shellOut.Reset()
	sh.handle("save")
	if !strings.Contains(shellOut.String(), "Unknown input") {
		t.Fatalf("save without sink = %q", shellOut.String())
	}

	if sh.handle("quit") {
		t.Fatalf("quit should stop the shell")
	}
}
