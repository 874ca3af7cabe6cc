// Package review merges community notes into a hero's detailed review.
//
// Submissions arrive on the hero_reviews queue. The processor resolves the
// hero by title, asks the language model to fold the notes into the current
// review, announces the change in the approval channel without asking for a
// vote, commits the text as confirmed and requests a reference refresh.
package review
