package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/moddy-bot/moddy/platform/go/auth/devtoken"
)

func main() {
	secret := flag.String("secret", "", "HS256 secret (defaults to $INTERNAL_API_SECRET)")
	subject := flag.String("subject", "dev", "sub claim: calling service name")
	actorID := flag.Int64("actor-id", 0, "actor_id claim: Discord user the caller acts for (0 omits it)")
	staff := flag.Bool("staff", false, "set staff=true for staff-only routes")
	expiresIn := flag.Duration("expires-in", time.Hour, "token lifetime (duration, e.g. 30m, 2h)")

	flag.Parse()

	key := strings.TrimSpace(*secret)
	if key == "" {
		key = os.Getenv("INTERNAL_API_SECRET")
	}

	token, err := devtoken.Build(devtoken.Params{
		Secret:    []byte(key),
		Subject:   strings.TrimSpace(*subject),
		ActorID:   *actorID,
		Staff:     *staff,
		ExpiresIn: *expiresIn,
	}, time.Now().UTC())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(token)
}
