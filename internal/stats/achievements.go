package stats

const (
	AchFirstGame       = "first_game"
	AchFirstWin        = "first_win"
	AchScholarsMate    = "scholars_mate"
	AchTenGames        = "ten_games"
	AchWinStreak3      = "win_streak_3"
	AchStalemateArtist = "stalemate_artist"
)

// Catalog lists every achievement in display order.
var Catalog = []Achievement{
	{ID: AchFirstGame, Title: "First Steps", Description: "Finish your first game."},
	{ID: AchFirstWin, Title: "First Victory", Description: "Win your first game."},
	{ID: AchScholarsMate, Title: "Scholar", Description: "Deliver checkmate within seven half-moves."},
	{ID: AchTenGames, Title: "Regular", Description: "Finish ten games."},
	{ID: AchWinStreak3, Title: "On Fire", Description: "Win three games in a row."},
	{ID: AchStalemateArtist, Title: "Stalemate Artist", Description: "End a game by stalemate."},
}

func catalogEntry(id string) (Achievement, bool) {
	for _, a := range Catalog {
		if a.ID == id {
			return a, true
		}
	}
	return Achievement{}, false
}

// playerResult is what one participant got out of a finished game.
type playerResult struct {
	won          bool
	byCheckmate  bool
	plies        int
	madeLastMove bool
	stalemate    bool
}

// earned evaluates the catalogue against a profile that already includes the
// game just played.
func earned(p *Profile, r playerResult) []string {
	var ids []string
	if p.GamesPlayed >= 1 {
		ids = append(ids, AchFirstGame)
	}
	if r.won {
		ids = append(ids, AchFirstWin)
	}
	if r.won && r.byCheckmate && r.plies <= 7 {
		ids = append(ids, AchScholarsMate)
	}
	if p.GamesPlayed >= 10 {
		ids = append(ids, AchTenGames)
	}
	if p.StreakType == resultWin && p.Streak >= 3 {
		ids = append(ids, AchWinStreak3)
	}
	if r.stalemate && r.madeLastMove {
		ids = append(ids, AchStalemateArtist)
	}
	return ids
}
