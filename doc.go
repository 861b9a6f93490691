// Package secops provides a Go client for the Google Security Operations
// (Chronicle) REST API.
//
// # Features
//
//   - UDM search and stats queries that run as backend operations and are
//     polled to completion
//   - CSV export, query validation and IoC matches
//   - Entity summaries with automatic value type detection
//   - Raw log and UDM event ingestion
//   - Natural-language query translation and Gemini chat
//   - Go 1.25+ iterators for paginated collections
//   - Typed errors for precise error handling
//
// # Quick Start
//
//	client, err := secops.NewClient(
//	    secops.WithInstance(customerID, projectID, "us"),
//	    secops.WithTokenSource(tokenSource),
//	)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	end := time.Now()
//	result, err := client.Search.Events(ctx, &secops.SearchRequest{
//	    Query:     `metadata.event_type = "NETWORK_CONNECTION"`,
//	    StartTime: end.Add(-24 * time.Hour),
//	    EndTime:   end,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fmt.Printf("%d events\n", result.TotalEvents)
//
// # Search Operations
//
// Events and Stats submit the query, then poll the returned operation once
// per poll interval (WithPollInterval, default 1s) until it reports
// completion or the attempt ceiling (WithMaxPollAttempts, default 30) is
// reached. Every failure is a *SearchError whose Kind tells where it
// happened:
//
//	_, err := client.Search.Stats(ctx, req)
//	if secops.IsSearchErrorKind(err, secops.KindTimeout) {
//	    // retry with a larger ceiling or a narrower time range
//	}
//
// # Error Handling
//
// HTTP failures are typed and can be inspected with errors.As:
//
//	var authErr *secops.AuthenticationError
//	if errors.As(err, &authErr) {
//	    // refresh credentials
//	}
//
// # Pagination
//
// List operations return iterators that fetch pages lazily:
//
//	for lt, err := range client.Ingest.LogTypes(ctx) {
//	    if err != nil {
//	        log.Fatal(err)
//	    }
//	    fmt.Println(lt.ID())
//	}
//
//	// Or collect everything
//	forwarders, err := secops.Collect(client.Ingest.Forwarders(ctx))
package secops
