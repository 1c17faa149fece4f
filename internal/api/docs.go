package api

// docsHTML renders /openapi.json with Stoplight Elements. The header links
// the endpoints that are not part of the OpenAPI document.
const docsHTML = `<!doctype html>
<html lang="en" data-theme="dark">
<head>
  <meta charset="utf-8" />
  <meta name="viewport" content="width=device-width, initial-scale=1" />
  <title>netmon API</title>
  <link href="https://unpkg.com/@stoplight/elements@9.0.0/styles.min.css" rel="stylesheet" />
  <script src="https://unpkg.com/@stoplight/elements@9.0.0/web-components.min.js" crossorigin="anonymous"></script>
  <style>
    html, body { height: 100%; margin: 0; background: #0d1117; }
    body { display: flex; flex-direction: column; }
    header.netmon {
      display: flex; gap: 18px; align-items: baseline;
      padding: 8px 16px; border-bottom: 1px solid #30363d;
      color: #c9d1d9; font: 12px -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
    }
    header.netmon strong { font-size: 14px; }
    header.netmon a, header.netmon code { color: #58a6ff; text-decoration: none; }
    elements-api { flex: 1; min-height: 0; }
  </style>
</head>
<body>
  <header class="netmon">
    <strong>netmon</strong>
    <span>stream: <code>/api/v1/stream?kinds=response,failed</code> (WebSocket), <code>/api/v1/stream/sse</code></span>
    <a href="/metrics">/metrics</a>
    <a href="/openapi.yaml">openapi.yaml</a>
  </header>
  <elements-api
    apiDescriptionUrl="/openapi.json"
    router="hash"
    layout="sidebar"
    tryItCredentialsPolicy="same-origin"
    darkMode
  />
</body>
</html>`
