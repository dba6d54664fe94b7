// Command derbyflow runs pipeline workers and operates the derby video
// pipeline from the shell.
//
// Workers consume one stage queue each:
//
//	derbyflow worker --stage human_detection
//
// Uploads are split and registered with "derbyflow ingest", stage workers
// are stopped with "derbyflow stop", and documents and detection results are
// inspected with "derbyflow show" and "derbyflow results".
package main
