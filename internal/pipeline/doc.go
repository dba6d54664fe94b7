// Package pipeline holds the ordered stage definition, the work message
// exchanged over queues, and the router that turns a finished stage into a
// work item for the next stage.
//
// The router is stateless: it decides from the document alone and does not
// record that a dispatch happened. Consumers must tolerate redelivery.
package pipeline
