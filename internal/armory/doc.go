// Package armory knows the shape of the ezwow armory character listing: its
// URLs, its row markup, and the labels it uses for classes and races.
package armory
