// Command stockcrawler runs the scheduled board crawl and the operations API.
//
// With -once it performs a single session (or, with -author, a single-author
// crawl) and exits.
package main
