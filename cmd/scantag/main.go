// scantag applies malware scan verdicts to object storage: it tags scanned
// objects and quarantines malicious ones.
package main

func main() {
	Execute()
}
