// Package imaging prepares screenshots for the content backend and the
// approval channel: black-bar trimming, portrait rotation and re-encoding to
// fit attachment limits.
package imaging
