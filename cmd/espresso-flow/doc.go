// Command espresso-flow measures espresso extraction videos: it counts the
// streams leaving the basket frame by frame, scores how evenly the shot ran
// and keeps a history of analyzed shots alongside brew notes.
package main
