package stats

import (
	"fmt"
	"strings"
	"time"
)

// pgnResult derives the PGN result token. After mate the side that moved
// last won: White when the ply count is odd.
func pgnResult(method string, plies int) string {
	switch method {
	case "":
		return "*"
	case "checkmate":
		if plies%2 == 1 {
			return "1-0"
		}
		return "0-1"
	default:
		return "1/2-1/2"
	}
}

func buildPGN(g *ArchivedGame) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.EndedAt
	if date.IsZero() {
		date = time.Now()
	}
	b.WriteString("[Event \"Cheese Web\"]\n")
	b.WriteString("[Site \"cheese-web\"]\n")
	b.WriteString(fmt.Sprintf("[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day()))
	b.WriteString(fmt.Sprintf("[White \"%s\"]\n", sanitizePGN(g.WhitePlayer)))
	b.WriteString(fmt.Sprintf("[Black \"%s\"]\n", sanitizePGN(g.BlackPlayer)))
	if strings.TrimSpace(g.ResultMethod) != "" {
		b.WriteString(fmt.Sprintf("[Termination \"%s\"]\n", sanitizePGN(strings.ToLower(g.ResultMethod))))
	}
	b.WriteString(fmt.Sprintf("[Result \"%s\"]\n\n", g.Result))

	for i := 0; i < len(g.MovesSAN); i += 2 {
		b.WriteString(fmt.Sprintf("%d. %s", i/2+1, strings.TrimSpace(g.MovesSAN[i])))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(" ")
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
		}
		b.WriteString(" ")
	}
	b.WriteString(g.Result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
