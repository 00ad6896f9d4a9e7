// Package pathutil holds pure request-path helpers shared by the edge
// middleware. Nothing here touches an *http.Request.
package pathutil
