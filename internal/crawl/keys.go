package crawl

// Store key layout for one crawl. Keys are namespaced by crawl id and a
// suffix tag; nothing outside this module parses them.

func KeyRecord(id string) string         { return "crawl:" + id }
func KeyJobs(id string) string           { return "crawl:" + id + ":jobs" }
func KeyJobsQualified(id string) string  { return "crawl:" + id + ":jobs_qualified" }
func KeyJobsDone(id string) string       { return "crawl:" + id + ":jobs_done" }
func KeyJobsDoneOrdered(id string) string { return "crawl:" + id + ":jobs_done_ordered" }
func KeyVisited(id string) string        { return "crawl:" + id + ":visited" }
func KeyVisitedUnique(id string) string  { return "crawl:" + id + ":visited_unique" }
func KeyKickoffFinished(id string) string { return "crawl:" + id + ":kickoff_finished" }
func KeyPreFinished(id string) string    { return "crawl:" + id + ":prefinished" }
func KeyFinished(id string) string       { return "crawl:" + id + ":finished" }
func KeySitemapsVisited(id string) string { return "crawl:" + id + ":sitemaps_visited" }
func KeyDenied(id string) string         { return "crawl:" + id + ":denied" }

// KeyTeamCrawls indexes the live crawl ids belonging to a team.
func KeyTeamCrawls(teamID string) string { return "team:" + teamID + ":crawls" }
