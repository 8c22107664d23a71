// Command agent is a headless exam device driver. It runs the full session
// flow against a live server: login, code validation, lockdown, answering
// with autosave, and final submission. Useful for venue smoke tests and for
// load drills without real tablets.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/examtrail/examtrail/internal/agent/api"
	"github.com/examtrail/examtrail/internal/agent/biometric"
	"github.com/examtrail/examtrail/internal/agent/lockdown"
	"github.com/examtrail/examtrail/internal/agent/session"
	"github.com/examtrail/examtrail/internal/config"
	"github.com/examtrail/examtrail/internal/logger"
	"github.com/examtrail/examtrail/internal/model"
)

func main() {
	var (
		serverURL  = flag.String("server", "http://localhost:8080", "Server base URL")
		examineeNo = flag.String("examinee", "", "Examinee registration number")
		password   = flag.String("password", "", "Examinee password")
		examCode   = flag.String("code", "", "Exam access code")
	)
	flag.Parse()

	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if *examineeNo == "" || *password == "" || *examCode == "" {
		fmt.Println("Usage: agent -server URL -examinee NO -password PW -code CODE")
		os.Exit(1)
	}

	ctx := context.Background()

	client := api.New(*serverURL)
	examinee, err := client.Login(ctx, *examineeNo, *password)
	if err != nil {
		log.Fatal().Err(err).Msg("Login failed")
	}
	fmt.Printf("Logged in as %s (%s)\n", examinee.Name, examinee.ExamineeNo)

	// Headless runs have no biometric hardware; verification is skipped.
	var bio biometric.Provider = biometric.Unavailable{}
	if bio.Available() {
		if err := bio.Verify(ctx); err != nil {
			log.Fatal().Err(err).Msg("Identity verification failed")
		}
	}

	locker := lockdown.New(headlessPlatform{}, log)
	machine := session.New(client, log, session.WithLockdown(locker))

	if err := machine.Begin(ctx, *examCode); err != nil {
		if errors.Is(err, lockdown.ErrLockdownUnavailable) {
			locker.OpenSecuritySettings()
			log.Fatal().Msg("Device policy blocks screen pinning; enable it in the settings screen that just opened")
		}
		if errors.Is(err, lockdown.ErrSecurityDenied) {
			log.Fatal().Msg("Lockdown was denied; the exam cannot start")
		}
		log.Fatal().Err(err).Msg("Session start failed")
	}

	meta := machine.Meta()
	fmt.Printf("Exam: %s (%s), %d minutes\n", meta.Title, meta.RefNo, meta.DurationMinutes)
	fmt.Println("Commands: list | answer <n> <option> | next | submit | abort")

	scanner := bufio.NewScanner(os.Stdin)
	printPaper(machine.Paper())

	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "list":
			printPaper(machine.Paper())
			fmt.Printf("Remaining: %ds\n", machine.RemainingSeconds())

		case "answer":
			if len(fields) != 3 {
				fmt.Println("Usage: answer <n> <option>")
				continue
			}
			n, err := strconv.Atoi(fields[1])
			paper := machine.Paper()
			if err != nil || n < 1 || n > len(paper.Questions) {
				fmt.Println("Invalid question number")
				continue
			}
			q := paper.Questions[n-1]
			if err := machine.SelectAnswer(q.ID.String(), strings.ToUpper(fields[2])); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Printf("Q%d = %s\n", n, strings.ToUpper(fields[2]))

		case "next":
			if err := machine.AdvancePhase(ctx); err != nil {
				fmt.Printf("Error: %v\n", err)
				continue
			}
			fmt.Println("Entered academic phase")
			printPaper(machine.Paper())

		case "submit":
			machine.Wait() // Let outstanding autosaves land first.
			resp, err := machine.Submit(ctx)
			if err != nil {
				fmt.Printf("Submit failed: %v\n", err)
				continue
			}
			printResult(resp)
			return

		case "abort":
			machine.Abort(ctx, "operator abort")
			fmt.Println("Session aborted; progress is kept on the server")
			return

		default:
			fmt.Println("Commands: list | answer <n> <option> | next | submit | abort")
		}

		// On expiry the machine submits on its own; just report the result.
		if machine.Expired() {
			fmt.Println("Time is up — submitting")
			machine.Wait()
			if _, err := machine.Submit(ctx); err != nil && !errors.Is(err, session.ErrWrongPhase) {
				log.Fatal().Err(err).Msg("Submit failed")
			}
			if resp := machine.Result(); resp != nil {
				printResult(resp)
			}
			return
		}
	}
}

func printPaper(paper *model.ExamPaper) {
	if paper == nil {
		return
	}
	fmt.Printf("── %s phase, %d questions ──\n", paper.Phase, len(paper.Questions))
	for i, q := range paper.Questions {
		fmt.Printf("%2d. %s\n", i+1, q.QuestionText)
	}
}

func printResult(resp *model.SubmitResponse) {
	r := resp.Result
	if resp.AlreadySubmitted {
		fmt.Println("Already submitted earlier; showing the stored result.")
	}
	fmt.Printf("Score: %.2f%% (%d/%d) — %s\n", r.ScorePercentage, r.CorrectItems, r.TotalItems, r.Remarks)
	for cat, s := range r.CategoryBreakdown {
		fmt.Printf("  %-12s %d/%d\n", cat, s.Correct, s.Total)
	}
}

// headlessPlatform is a software-only kiosk: there is no OS pin to negotiate,
// so every request succeeds immediately.
type headlessPlatform struct{}

func (headlessPlatform) RequestPin() error           { return nil }
func (headlessPlatform) Unpin() error                { return nil }
func (headlessPlatform) Pinned() bool                { return true }
func (headlessPlatform) SetSecureSurface(bool) error { return nil }
func (headlessPlatform) RaiseOverlay() error         { return nil }
func (headlessPlatform) LowerOverlay() error         { return nil }
func (headlessPlatform) PromptText() (string, bool)  { return "", false }
func (headlessPlatform) OpenSecuritySettings() error { return nil }
