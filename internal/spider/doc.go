// Package spider implements the two-stage crawl/parse pipeline: the crawl
// workers that discover links from a seed location, the parse workers that
// extract records from captured locations, and the controller that bounds,
// drains and verifies a run.
package spider
