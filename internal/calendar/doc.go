// Package calendar wraps the Google Calendar v3 API for one authenticated
// session.
//
// A Client is cheap to build and is created per tool call from the
// session's current credential:
//
//	httpClient := google.NewAuthorizedClient(ctx, cred.Token())
//	client, err := calendar.NewClient(ctx, httpClient, calendar.WithDefaultTimeZone("Europe/Berlin"))
//	if err != nil {
//		return err
//	}
//	events, err := client.ListEvents(ctx, calendar.ListOptions{TimeMin: "2025-03-01T00:00:00Z"})
package calendar
