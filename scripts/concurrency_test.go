//go:build ignore
// +build ignore

// Package main is a manual concurrency stress test for the borrow endpoint.
//
// Usage:
//
//	go run ./scripts/concurrency_test.go <book_id> <member1_id> [member2_id ...]
//
// Or use the convenience environment variables:
//
//	BOOK_ID=<uuid>  MEMBER_IDS=<uuid1>,<uuid2>,...  go run ./scripts/concurrency_test.go
//
// What it does:
//  1. Reads the book's available copies.
//  2. Fires one goroutine per member, all borrowing the same book at once.
//  3. Checks that successful borrows never exceed the copies that were on the
//     shelf and that every refusal is a 409 "book unavailable".
//
// Prerequisites:
//   - Server must be running (library serve).
//   - The book and the members must exist; members must be active and under
//     their loan limit.

package main

import (
	"bytes"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"
)

const defaultServerAddr = "http://localhost:8080"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type borrowResult struct {
	MemberID   string
	RecordID   string
	StatusCode int
	Message    string
	Err        error
}

type bookView struct {
	AvailableCopies int `json:"available_copies"`
	TotalCopies     int `json:"total_copies"`
}

func main() {
	serverAddr := os.Getenv("SERVER_URL")
	if serverAddr == "" {
		serverAddr = defaultServerAddr
	}

	bookID := os.Getenv("BOOK_ID")
	var memberIDs []string
	if env := os.Getenv("MEMBER_IDS"); env != "" {
		memberIDs = strings.Split(env, ",")
	}

	args := os.Args[1:]
	if len(args) >= 1 {
		bookID = args[0]
	}
	if len(args) >= 2 {
		memberIDs = args[1:]
	}

	if bookID == "" {
		log.Fatal("Usage: BOOK_ID=<uuid> MEMBER_IDS=<m1,m2,...> go run ./scripts/concurrency_test.go\n" +
			"  or: go run ./scripts/concurrency_test.go <book_id> <member1_id> [member2_id ...]")
	}
	if len(memberIDs) == 0 {
		log.Fatal("At least one member ID must be provided via MEMBER_IDS env or positional args")
	}

	client := &http.Client{Timeout: 10 * time.Second}

	before, err := fetchBook(client, serverAddr, bookID)
	if err != nil {
		log.Fatalf("could not read book: %v", err)
	}

	fmt.Printf("=== Borrow Concurrency Test ===\n")
	fmt.Printf("Server    : %s\n", serverAddr)
	fmt.Printf("Book      : %s (%d of %d available)\n", bookID, before.AvailableCopies, before.TotalCopies)
	fmt.Printf("Members   : %d\n\n", len(memberIDs))

	results := make([]borrowResult, len(memberIDs))
	var wg sync.WaitGroup
	start := make(chan struct{})

	for i, id := range memberIDs {
		wg.Add(1)
		go func(idx int, memberID string) {
			defer wg.Done()
			<-start
			results[idx] = attemptBorrow(client, serverAddr, bookID, strings.TrimSpace(memberID))
		}(i, id)
	}

	fmt.Println("Firing all requests simultaneously...")
	close(start)
	wg.Wait()
	fmt.Println("All requests completed.")
	fmt.Println()

	var borrowed, refused, failures int
	for _, r := range results {
		switch {
		case r.Err != nil:
			failures++
			fmt.Printf("  [ERR ] member=%-38s err=%v\n", r.MemberID, r.Err)
		case r.StatusCode == http.StatusCreated:
			borrowed++
			fmt.Printf("  [LOAN] member=%-38s record=%s\n", r.MemberID, r.RecordID)
		case r.StatusCode == http.StatusConflict:
			refused++
			fmt.Printf("  [FULL] member=%-38s %s\n", r.MemberID, r.Message)
		default:
			failures++
			fmt.Printf("  [FAIL] member=%-38s status=%d %s\n", r.MemberID, r.StatusCode, r.Message)
		}
	}

	after, err := fetchBook(client, serverAddr, bookID)
	if err != nil {
		log.Fatalf("could not re-read book: %v", err)
	}

	fmt.Printf("\n--- Summary ---\n")
	fmt.Printf("Borrowed  : %d\n", borrowed)
	fmt.Printf("Refused   : %d\n", refused)
	fmt.Printf("Failures  : %d\n", failures)
	fmt.Printf("Available : %d -> %d\n\n", before.AvailableCopies, after.AvailableCopies)

	ok := true
	if borrowed > before.AvailableCopies {
		fmt.Printf("[BROKEN] %d borrows succeeded but only %d copies were available\n", borrowed, before.AvailableCopies)
		ok = false
	}
	if after.AvailableCopies != before.AvailableCopies-borrowed {
		fmt.Printf("[BROKEN] available copies dropped by %d, expected %d\n", before.AvailableCopies-after.AvailableCopies, borrowed)
		ok = false
	}
	if after.AvailableCopies < 0 {
		fmt.Println("[BROKEN] available copies went negative")
		ok = false
	}
	if failures > 0 {
		fmt.Printf("[WARNING] %d request(s) failed, check server logs for details.\n", failures)
		ok = false
	}
	if !ok {
		os.Exit(1)
	}
	fmt.Println("No oversell detected.")
}

// attemptBorrow sends POST /books/{bookID}/borrow for the given member.
func attemptBorrow(client *http.Client, serverAddr, bookID, memberID string) borrowResult {
	url := fmt.Sprintf("%s/books/%s/borrow", serverAddr, bookID)
	body := fmt.Sprintf(`{"member_id":"%s"}`, memberID)

	resp, err := client.Post(url, "application/json", bytes.NewBufferString(body))
	if err != nil {
		return borrowResult{MemberID: memberID, Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	var parsed struct {
		ID    string `json:"id"`
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return borrowResult{MemberID: memberID, StatusCode: resp.StatusCode, Err: fmt.Errorf("bad JSON: %s", raw)}
	}
	return borrowResult{
		MemberID:   memberID,
		RecordID:   parsed.ID,
		StatusCode: resp.StatusCode,
		Message:    parsed.Error,
	}
}

func fetchBook(client *http.Client, serverAddr, bookID string) (bookView, error) {
	resp, err := client.Get(fmt.Sprintf("%s/books/%s", serverAddr, bookID))
	if err != nil {
		return bookView{}, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return bookView{}, fmt.Errorf("GET book: status %d", resp.StatusCode)
	}
	var book bookView
	err = json.NewDecoder(resp.Body).Decode(&book)
	return book, err
}
