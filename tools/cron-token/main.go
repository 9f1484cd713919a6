// cron-token mints a short-lived HS256 token for the reminder cron
// endpoints, for use from a scheduler or by hand:
//
//	curl -X POST -H "Authorization: Bearer $(cron-token -job reminders-24h)" ...
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/eleva-care/eleva-backend/libs/signing"
)

func main() {
	var (
		job    = flag.String("job", "reminders-24h", "job claim (reminders-24h or reminders-1h)")
		ttl    = flag.Duration("ttl", 2*time.Minute, "token lifetime")
		secret = flag.String("secret", os.Getenv("CRON_SIGNING_SECRET"), "signing secret")
	)
	flag.Parse()

	if strings.TrimSpace(*secret) == "" {
		fmt.Fprintln(os.Stderr, "CRON_SIGNING_SECRET is required")
		os.Exit(2)
	}

	now := time.Now().Unix()
	token, err := signing.Sign(signing.Claims{
		Sub: "cron",
		Job: strings.TrimSpace(*job),
		Iat: now,
		Exp: now + int64(ttl.Seconds()),
	}, *secret)
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(2)
	}
	fmt.Println(token)
}
