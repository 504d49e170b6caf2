package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"futures-hedge-bot/config"
	"futures-hedge-bot/internal/database"
	"futures-hedge-bot/internal/position"
)

// PairStats aggregates the settled trades of one pair.
type PairStats struct {
	Pair          string
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	TotalPnL      float64
	TotalWins     float64
	TotalLosses   float64
	WinRate       float64
	AvgPnL        float64
	HedgeTrades   int
	HedgePnL      float64
}

func main() {
	// Try multiple locations for .env
	exe, _ := os.Executable()
	exeDir := filepath.Dir(exe)
	godotenv.Load()
	godotenv.Load(filepath.Join(exeDir, ".env"))
	godotenv.Load(filepath.Join(exeDir, "..", "..", ".env"))

	url := os.Getenv("DATABASE_URL")
	if url == "" {
		fmt.Println("❌ DATABASE_URL required in .env or the environment")
		os.Exit(1)
	}

	line := strings.Repeat("=", 80)
	fmt.Println(line)
	fmt.Println("📊 HEDGE BOT TRADE HISTORY REPORT")
	fmt.Println(line)

	ctx := context.Background()
	db, err := database.New(ctx, config.DatabaseConfig{Enabled: true, URL: url})
	if err != nil {
		fmt.Printf("❌ Failed to connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	now := time.Now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	dailyPnL, err := db.RealizedPnLSince(ctx, dayStart)
	if err != nil {
		fmt.Printf("❌ Failed to read daily PnL: %v\n", err)
		os.Exit(1)
	}
	weeklyPnL, _ := db.RealizedPnLSince(ctx, now.Add(-7*24*time.Hour))

	fmt.Printf("\n💰 Realized PnL today (UTC): %+.4f\n", dailyPnL)
	fmt.Printf("📈 Realized PnL last 7 days: %+.4f\n", weeklyPnL)

	fmt.Println("\n🔄 Fetching settled trades...")
	trades, err := db.RecentTrades(ctx, "", 500)
	if err != nil {
		fmt.Printf("❌ Failed to read trades: %v\n", err)
		os.Exit(1)
	}
	if len(trades) == 0 {
		fmt.Println("\n❌ No settled trades recorded yet")
		return
	}
	fmt.Printf("   Loaded %d trades\n", len(trades))

	pairStats := make(map[string]*PairStats)
	var primaryPnL, hedgePnL float64
	var primaryCount, hedgeCount, hedgeWins int

	for _, t := range trades {
		stats, ok := pairStats[t.Pair]
		if !ok {
			stats = &PairStats{Pair: t.Pair}
			pairStats[t.Pair] = stats
		}

		stats.TotalTrades++
		stats.TotalPnL += t.RealizedPnL
		if t.RealizedPnL > 0 {
			stats.WinningTrades++
			stats.TotalWins += t.RealizedPnL
		} else if t.RealizedPnL < 0 {
			stats.LosingTrades++
			stats.TotalLosses += t.RealizedPnL
		}

		if position.Role(t.Role).IsHedge() {
			stats.HedgeTrades++
			stats.HedgePnL += t.RealizedPnL
			hedgeCount++
			hedgePnL += t.RealizedPnL
			if t.RealizedPnL > 0 {
				hedgeWins++
			}
		} else {
			primaryCount++
			primaryPnL += t.RealizedPnL
		}
	}

	var sorted []*PairStats
	for _, s := range pairStats {
		if s.TotalTrades > 0 {
			s.WinRate = float64(s.WinningTrades) / float64(s.TotalTrades) * 100
			s.AvgPnL = s.TotalPnL / float64(s.TotalTrades)
		}
		sorted = append(sorted, s)
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].TotalPnL > sorted[j].TotalPnL
	})

	fmt.Println("\n" + line)
	fmt.Println("📈 PERFORMANCE BY PAIR")
	fmt.Println(line)

	fmt.Println("┌──────────────┬────────┬─────────┬─────────┬──────────────┬──────────────┬──────────┐")
	fmt.Println("│ Pair         │ Trades │ Winners │ Losers  │ Total PnL    │ Hedge PnL    │ Win Rate │")
	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")

	var grandPnL float64
	var grandTrades, grandWins, grandLosses int
	for _, s := range sorted {
		emoji := "🟢"
		if s.TotalPnL < 0 {
			emoji = "🔴"
		}
		fmt.Printf("│ %s %-10s │ %6d │ %7d │ %7d │ %+12.4f │ %+12.4f │ %7.1f%% │\n",
			emoji, truncate(s.Pair, 10),
			s.TotalTrades, s.WinningTrades, s.LosingTrades,
			s.TotalPnL, s.HedgePnL, s.WinRate)
		grandPnL += s.TotalPnL
		grandTrades += s.TotalTrades
		grandWins += s.WinningTrades
		grandLosses += s.LosingTrades
	}

	fmt.Println("├──────────────┼────────┼─────────┼─────────┼──────────────┼──────────────┼──────────┤")
	grandWinRate := 0.0
	if grandTrades > 0 {
		grandWinRate = float64(grandWins) / float64(grandTrades) * 100
	}
	fmt.Printf("│ 📊 TOTAL     │ %6d │ %7d │ %7d │ %+12.4f │ %+12.4f │ %7.1f%% │\n",
		grandTrades, grandWins, grandLosses, grandPnL, hedgePnL, grandWinRate)
	fmt.Println("└──────────────┴────────┴─────────┴─────────┴──────────────┴──────────────┴──────────┘")

	fmt.Println("\n" + line)
	fmt.Println("🛡️ HEDGE COVERAGE")
	fmt.Println(line)
	fmt.Printf("\n   Primary legs: %d settled, %+.4f PnL\n", primaryCount, primaryPnL)
	fmt.Printf("   Hedge legs:   %d settled, %+.4f PnL\n", hedgeCount, hedgePnL)
	if hedgeCount > 0 {
		fmt.Printf("   Hedge win rate: %.1f%%\n", float64(hedgeWins)/float64(hedgeCount)*100)
		if primaryPnL < 0 && hedgePnL > 0 {
			recovered := hedgePnL / -primaryPnL * 100
			fmt.Printf("   ✅ Hedges recovered %.1f%% of primary losses\n", recovered)
		}
		if hedgePnL < 0 && primaryPnL > 0 {
			fmt.Printf("   ⚠️  Hedges cost %.4f against profitable primaries\n", -hedgePnL)
		}
	} else {
		fmt.Println("   No hedge legs settled in this window")
	}

	fmt.Println("\n" + line)
	fmt.Println("🔴 WORST PAIRS")
	fmt.Println(line)
	worst := 0
	for i := len(sorted) - 1; i >= 0 && worst < 5; i-- {
		s := sorted[i]
		if s.TotalPnL >= 0 {
			break
		}
		avgLoss := 0.0
		if s.LosingTrades > 0 {
			avgLoss = s.TotalLosses / float64(s.LosingTrades)
		}
		fmt.Printf("   🔴 %s: %+.4f total | %d losses | avg loss %+.4f | win rate %.1f%%\n",
			s.Pair, s.TotalPnL, s.LosingTrades, avgLoss, s.WinRate)
		worst++
	}
	if worst == 0 {
		fmt.Println("   None, every pair is non-negative")
	}

	fmt.Println("\n" + line)
	fmt.Println("💡 INSIGHTS")
	fmt.Println(line)
	if grandWinRate < 50 {
		fmt.Printf("\n   ⚠️  Overall win rate %.1f%% is below 50%%\n", grandWinRate)
		fmt.Println("   → Review entry reasons on the losing pairs before widening allocation")
	} else {
		fmt.Printf("\n   ✅ Overall win rate %.1f%%\n", grandWinRate)
	}
	for _, s := range sorted {
		if s.TotalPnL < 0 && s.WinRate < 45 && s.TotalTrades >= 3 {
			fmt.Printf("   🚫 Consider pausing %s (PnL %+.4f, win rate %.1f%%, %d trades)\n",
				s.Pair, s.TotalPnL, s.WinRate, s.TotalTrades)
		}
	}
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen]
}
