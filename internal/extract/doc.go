// Package extract turns fetched catalog pages into crawl decisions and
// product records. It classifies pages, discovers product and pagination
// links on category listings, and maps product pages to
// crawler.ProductRecord values using configurable CSS selectors. Nothing in
// this package performs I/O.
package extract
